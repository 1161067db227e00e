// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/redpanda-data/common-go/jsbridge/internal/log"
)

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := logr.FromSlogHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.Level(-1)}))

	ctx := log.IntoContext(context.Background(), logger)
	log.Info(ctx, "compiled", "bytes", 42)
	log.Debug(ctx, "cache hit")
	log.Error(ctx, errors.New("boom"), "execution failed")
	log.FromContext(ctx, "module", "m").Info("dispatch")

	out := buf.String()
	require.Contains(t, out, "compiled")
	require.Contains(t, out, "bytes=42")
	require.Contains(t, out, "cache hit")
	require.Contains(t, out, "boom")
	require.Contains(t, out, "module=m")
}

func TestDiscardWithoutLogger(t *testing.T) {
	require.NotPanics(t, func() {
		log.Info(context.Background(), "nobody listens")
	})
}

func TestSetGlobals(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log.SetGlobals(logr.FromSlogHandler(slog.NewTextHandler(&buf, nil)))
	slog.Info("Hello from slog")
	require.Contains(t, buf.String(), "Hello from slog")
}
