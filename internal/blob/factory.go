package blob

import (
	"context"
	"fmt"
)

// Config selects and parameterizes a blob backend.
type Config struct {
	// Driver is fs, s3 or memory. Empty selects fs.
	Driver string `koanf:"driver" validate:"omitempty,oneof=fs s3 memory"`
	// FSRoot is the directory root when Driver is fs.
	FSRoot string   `koanf:"fs_root"`
	S3     S3Config `koanf:"s3"`
}

// Open constructs the blob.Store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
