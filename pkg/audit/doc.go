// Package audit records who changed which team, role, membership or
// business, and which attempts were denied.
//
// Events are written through a Logger. LogrusLogger emits each event as a
// structured log line and PostgresLogger stores it in the audit_events
// table, where Search can find it again. MultiLogger fans an event out to
// several loggers:
//
//	pg, err := audit.NewPostgresLogger(ctx, db)
//	if err != nil {
//		return err
//	}
//	logger := audit.NewAsyncMultiLogger(ctx, 4, log, audit.NewLogrusLogger(log), pg)
//	defer logger.Close()
//
//	logger.LogMutation(ctx, audit.EventTypeRoleDelete,
//		audit.Actor{UserID: id.UserID, BusinessID: id.BusinessID, TeamID: teamID},
//		audit.ResourceTypeRole, roleID, nil, "role deleted")
//
// The async variant queues events on an async.WorkerPool so a slow sink
// does not delay the response, and events still land after the request
// context is cancelled.
package audit
