// Package zabbix is a small JSON-RPC client for the host API of Zabbix.
//
// The Client interface covers what the sync service needs (host lookup by
// technical name, create, update, delete) so it can be mocked in tests, see
// core/zabbix/mocks. APIClient is the HTTP implementation.
//
// # Errors
//
// Failures are classified for the caller:
//   - *APIError: Zabbix rejected the request. Retrying will not help.
//   - *TransientError: network failure, timeout, HTTP 5xx, or a session that
//     could not be renewed. The operation may be retried.
//
// An expired login session is renewed once, shared by concurrent callers.
//
// # Usage
//
//	client := zabbix.NewClient(cfg, logger)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	host, err := client.GetHost(ctx, zabbix.TechnicalName(cfg.HostPrefix, 42))
package zabbix
