// Package repository provides repository interfaces and GORM implementations
// for the training metadata store.
//
// Every method takes a context and runs through db.WithContext. Methods that
// accept a *gorm.DB transaction let the training worker compose several
// repository calls inside one commit.
package repository
