// Package mocks holds testify mocks of the port interfaces.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/bnema/harvest/internal/domain"
	"github.com/bnema/harvest/internal/port"
)

type Notifier struct {
	mock.Mock
}

func (m *Notifier) SendFile(ctx context.Context, subscriberID string, file domain.OutgoingFile) error {
	args := m.Called(ctx, subscriberID, file)
	return args.Error(0)
}

func (m *Notifier) SendText(ctx context.Context, subscriberID, text string) error {
	args := m.Called(ctx, subscriberID, text)
	return args.Error(0)
}

var _ port.Notifier = (*Notifier)(nil)

type Prober struct {
	mock.Mock
}

func (m *Prober) Probe(ctx context.Context, path string) (*domain.ProbeResult, error) {
	args := m.Called(ctx, path)
	if res := args.Get(0); res != nil {
		return res.(*domain.ProbeResult), args.Error(1)
	}
	return nil, args.Error(1)
}

var _ port.Prober = (*Prober)(nil)

type VideoSource struct {
	mock.Mock
}

func (m *VideoSource) Name() string {
	return m.Called().String(0)
}

func (m *VideoSource) Profile(ctx context.Context, username string) (*domain.ProfileSummary, error) {
	args := m.Called(ctx, username)
	if res := args.Get(0); res != nil {
		return res.(*domain.ProfileSummary), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *VideoSource) Videos(ctx context.Context, username string, max int) ([]domain.VideoDescriptor, error) {
	args := m.Called(ctx, username, max)
	if res := args.Get(0); res != nil {
		return res.([]domain.VideoDescriptor), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *VideoSource) Probe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

var _ port.ProbingSource = (*VideoSource)(nil)
