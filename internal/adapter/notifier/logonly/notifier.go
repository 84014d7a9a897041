// Package logonly is the notifier used when no bot is configured: it logs
// what would have been sent.
package logonly

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/infrastructure/logger"
	"github.com/bnema/harvest/internal/port"
)

type Notifier struct{}

func New() *Notifier {
	return &Notifier{}
}

func (Notifier) SendFile(_ context.Context, subscriberID string, file domain.OutgoingFile) error {
	size := "?"
	if info, err := os.Stat(file.Path); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	logger.Info.Printf("notify %s: file %s (%s) %q", subscriberID, file.Path, size, file.Caption)
	return nil
}

func (Notifier) SendText(_ context.Context, subscriberID, text string) error {
	logger.Info.Printf("notify %s: %q", subscriberID, text)
	return nil
}

var _ port.Notifier = Notifier{}
