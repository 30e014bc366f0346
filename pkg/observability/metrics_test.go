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

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsTaskLifecycle(t *testing.T) {
	m := NewMetrics("wavetest")

	m.RecordTaskStarted("shell")
	m.RecordTaskStarted("shell")
	m.RecordTaskFinished("shell", "completed")

	if got := testutil.ToFloat64(m.tasksStarted.WithLabelValues("shell")); got != 2 {
		t.Fatalf("expected 2 started tasks, got %v", got)
	}
	if got := testutil.ToFloat64(m.tasksActive.WithLabelValues("shell")); got != 1 {
		t.Fatalf("expected 1 active task, got %v", got)
	}
	if got := testutil.ToFloat64(m.tasksFinished.WithLabelValues("shell", "completed")); got != 1 {
		t.Fatalf("expected 1 finished task, got %v", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordTaskStarted("shell")
	m.RecordTaskFinished("shell", "killed")
	m.RecordSubagentExecution("completed")
	m.RecordSessionCreated()
	if m.Handler() == nil {
		t.Fatal("expected a fallback handler from a nil Metrics")
	}
	if m.Registry() != nil {
		t.Fatal("expected a nil registry from a nil Metrics")
	}
}
