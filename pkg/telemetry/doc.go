// Package telemetry provides the observability stack of webplane: a
// zerolog logger, OpenTelemetry tracing, Prometheus metrics and an
// in-process event bus.
//
// A Telemetry value is built from Config and handed to the operation
// engine as its instrumentation and to the service registry as a
// listener:
//
//	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
//	if err != nil {
//		return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	reg := services.NewRegistry(services.WithListener(tel.ServiceListener()))
//	ctrl := engine.NewController(tree,
//		engine.WithServices(reg),
//		engine.WithInstrumentation(tel),
//		engine.WithLogger(tel.Logger.Zerolog()),
//	)
//
// Every operation gets a span with one child span per stage, a counter by
// outcome, a latency histogram and an event on the bus. Service
// transitions are counted by state and published; failed starts are logged
// at error level. Metrics are served over HTTP by Metrics.Serve.
package telemetry
