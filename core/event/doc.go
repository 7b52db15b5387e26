// Package event decodes LMS database-trigger messages into typed change events.
//
// LMS publishes one message per changed row of the netdevices and nodes tables:
//
//	{"Action":"INSERT","Table":"nodes","ID":17,"Payload":"{\"id\":17,\"netdev\":4,\"ipaddr\":167772161}"}
//
// Decode maps netdevices rows to device-level fields (name, description, status) and
// nodes rows to interface-level fields (IP address, interface). A message that cannot be
// parsed, names an unknown table, or lacks a device identifier yields a
// *MalformedMessageError.
package event
