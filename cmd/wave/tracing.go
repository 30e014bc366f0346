// Copyright 2025 Kadir Pekel
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// initTracing installs a process-wide TracerProvider so the span-per-
// operation instrumentation in pkg/subagent, pkg/lsp, and pkg/hooks
// (each calling otel.Tracer(...) at package init) attaches to a real
// sampler/span-processor pipeline instead of the no-op default. No OTLP
// exporter is wired here since there is no collector in scope for this
// kernel; spans are created, attributed, and ended, but exporting them is
// left to whatever embeds this binary.
func initTracing() (shutdown func()) {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return func() { _ = provider.Shutdown(context.Background()) }
}
