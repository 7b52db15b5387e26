package mocks

import (
	"context"

	"lms-zabbix-sync/core/zabbix"

	"github.com/stretchr/testify/mock"
)

// Client is a mock implementation of zabbix.Client
type Client struct {
	mock.Mock
}

func (m *Client) HostExists(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

func (m *Client) GetHost(ctx context.Context, name string) (*zabbix.Host, error) {
	args := m.Called(ctx, name)
	if host, ok := args.Get(0).(*zabbix.Host); ok {
		return host, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *Client) CreateHost(ctx context.Context, payload zabbix.HostPayload) (string, error) {
	args := m.Called(ctx, payload)
	return args.String(0), args.Error(1)
}

func (m *Client) UpdateHost(ctx context.Context, hostID string, payload zabbix.HostPayload) error {
	args := m.Called(ctx, hostID, payload)
	return args.Error(0)
}

func (m *Client) DeleteHost(ctx context.Context, hostID string) error {
	args := m.Called(ctx, hostID)
	return args.Error(0)
}
