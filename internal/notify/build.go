package notify

import (
	"context"
	"time"

	"github.com/xgstriker/bbd-server/internal/conf"
	"github.com/xgstriker/bbd-server/internal/logger"
)

const startupConnectTimeout = 5 * time.Second

// FromSettings builds the notifiers enabled in settings. A broker that cannot
// be reached at startup is logged and left to auto-reconnect.
func FromSettings(ctx context.Context, settings *conf.NotifySettings, observer PublishObserver) (Notifier, error) {
	log := GetLogger()
	var notifiers Multi

	if settings.MQTT.Enabled {
		n := NewMQTTNotifier(&settings.MQTT, observer)
		connectCtx, cancel := context.WithTimeout(ctx, startupConnectTimeout)
		err := n.Connect(connectCtx)
		cancel()
		if err != nil {
			log.Warn("MQTT broker not reachable, will retry in background",
				logger.String("broker", settings.MQTT.Broker),
				logger.Error(err))
		}
		notifiers = append(notifiers, n)
	}

	if len(settings.URLs) > 0 {
		n, err := NewShoutrrrNotifier(settings.URLs, 0, observer)
		if err != nil {
			_ = notifiers.Close()
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	if len(notifiers) == 0 {
		return Nop{}, nil
	}
	return notifiers, nil
}
