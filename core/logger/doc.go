// Package logger provides a structured logging facility based on Zap.
//
// New builds a JSON (production) or console (development) logger from the
// configured level and format. Helpers attach correlation fields:
//   - WithRayID: the ray_id of an HTTP request, set by the rayid middleware.
//   - ForMessage: the msg_id of a queue message, so every log line about one
//     LMS change can be correlated.
//
// # Usage
//
//	log, _ := logger.New(&cfg.Log)
//	l := logger.ForMessage(log, msg.ID())
//	l.Info("Message received", zap.Int("bytes", len(msg.Body())))
package logger
