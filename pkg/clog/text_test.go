package clog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextHandler_ContextAttributes(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewAttributesHandler(NewTextHandler(buf, WithColor(false))))

	ctx := ContextWithSlog(context.Background())
	AddAttributes(ctx, map[string]any{
		"procedure": "/taskdesk.v1.AssignmentService/Accept",
		"code":      "failed_precondition",
	})
	AddActor(ctx, "user-d")
	AddError(ctx, errors.New("assignment is accepted"))
	logger.InfoContext(ctx, "someone already handled this")

	out := buf.String()
	assert.Contains(t, out, "INFO /taskdesk.v1.AssignmentService/Accept ")
	assert.Contains(t, out, `"[failed_precondition] someone already handled this"`)
	assert.Contains(t, out, `"assignment is accepted"`)
	assert.Contains(t, out, "    actor=user-d\n")
}

func TestTextHandler_Level(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewTextHandler(buf, WithColor(false), WithLevel(slog.LevelWarn)))
	logger.Info("dropped")
	assert.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "WARN")
}

func TestGetAttribute_WithoutBag(t *testing.T) {
	ctx := context.Background()
	AddActor(ctx, "ignored")
	assert.Empty(t, GetAttribute[string](ctx, ActorAttributeKey))
	assert.Nil(t, GetError(ctx))
}

func TestConnectCodeToLevel(t *testing.T) {
	assert.Equal(t, LevelInfo, ConnectCodeToLevel(9))
	assert.Equal(t, LevelError, ConnectCodeToLevel(14))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestAttributesHandler_SortedAndRecordWins(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := slog.New(NewAttributesHandler(slog.NewTextHandler(buf, nil)))

	ctx := ContextWithSlog(context.Background())
	AddAttributes(ctx, map[string]any{"zone": "b", "actor": "bag", "aisle": 7})
	logger.InfoContext(ctx, "picked", "actor", "record")

	out := buf.String()
	assert.Contains(t, out, "actor=record")
	assert.NotContains(t, out, "actor=bag")
	assert.Less(t, strings.Index(out, "aisle=7"), strings.Index(out, "zone=b"))
}
