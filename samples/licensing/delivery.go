package licensing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peterbourgon/diskv/v3"
)

// FileDelivery writes licence files below a directory and logs notifications.
type FileDelivery struct {
	files  *diskv.Diskv
	logger *slog.Logger
}

var _ Delivery = (*FileDelivery)(nil)

func NewFileDelivery(dir string, logger *slog.Logger) *FileDelivery {
	return &FileDelivery{
		files: diskv.New(diskv.Options{
			BasePath:  dir,
			Transform: func(string) []string { return []string{} },
		}),
		logger: logger,
	}
}

func (d *FileDelivery) Notify(ctx context.Context, n *Notification) error {
	d.logger.InfoContext(ctx, "Notification", "email", n.Email, "message", n.Message)
	return nil
}

func (d *FileDelivery) StoreLicence(_ context.Context, f *LicenceFile) error {
	if err := d.files.Write(f.Name, []byte(f.Contents)); err != nil {
		return fmt.Errorf("writing %s: %w", f.Name, err)
	}

	return nil
}

// Read returns the contents of a stored licence file.
func (d *FileDelivery) Read(name string) (string, error) {
	b, err := d.files.Read(name)
	if err != nil {
		return "", err
	}

	return string(b), nil
}
