// Package asyncflow defers message handling through a queue. A message
// wrapped in an Async envelope and dispatched through the bus is serialized
// and published instead of handled; a Runner later drains the queue back into
// the same bus, where the async middleware retries failures by republishing
// them and moves exhausted ones to a "<queue>.failed" queue.
//
// The queue is kept in process ("memory"), in Redis lists ("redis") or
// provided by any registered Watermill transport: Kafka, RabbitMQ, NATS Core or JetStream,
// AWS SNS/SQS, HTTP or persistent Go channels. Config is read from
// ASYNCFLOW_* environment variables and optional .env files.
//
// A typical worker:
//
//	conf, _ := asyncflow.LoadConfig()
//	svc := asyncflow.NewService(conf, logger, ctx, asyncflow.ServiceDependencies{})
//	_ = asyncflow.Register(svc, sendInvoice)
//
//	_ = svc.DispatchAsync(ctx, InvoiceRequested{ID: "42"})
//	_ = svc.Run(ctx, "", nil)
//
// Runners stop when the queue is empty, when a handler fails with a severe
// error (a recovered panic, or one wrapped with Severe) or when a configured
// limit on messages, memory or wall time is reached. Run them from cron, a
// process supervisor or a loop to keep consuming.
package asyncflow
