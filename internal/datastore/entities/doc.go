// Package entities defines the GORM entity models for the training metadata store.
//
// # Core Entities
//
//   - ModelType: named detection task ("Object", "Money")
//   - Status: confidence buckets ("Good", "Middle", "Faulty")
//   - Image: an uploaded image, optionally flagged ready for training
//   - DetectionObject: a labeled bounding box
//   - ImageObjectLink: Image <-> DetectionObject join table
//
// # Pipeline Entities
//
//   - TrainingRun: audit row for each retraining attempt
package entities
