// Package maestro is a client for an automation orchestration portal:
// task lifecycle, alerts, messages, execution logs, credentials, artifacts
// and the data pool work queues of maestro/datapool.
//
// A Client negotiates the portal's wire protocol once per Login and gates
// operations the connected portal is too old to serve:
//
//	client := maestro.New(maestro.Config{Server: server, Login: login, Key: key})
//	if err := client.Login(ctx); err != nil {
//		return err
//	}
//	pool, err := client.GetDataPool(ctx, "invoices")
//	if err != nil {
//		return err
//	}
//	entry, err := pool.Next(ctx, client.TaskID())
//
// Processes launched by an agent attach to their task with FromArgs, which
// reads [server, taskID, token] from the command line instead of logging
// in.
package maestro
