// Package mcpserver exposes reminder lifecycle operations as MCP tools so an
// assistant can manage reminders over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"remindd/internal/capability"
	"remindd/internal/reminder"
	"remindd/internal/store"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

const serverName = "remindd"

// Reminders is the lifecycle surface the tools call.
type Reminders interface {
	Create(ctx context.Context, in reminder.Input) (reminder.Result, error)
	Edit(ctx context.Context, ownerID, id string, ch reminder.Changes) (reminder.Result, error)
	Delete(ctx context.Context, ownerID, id string) error
	Toggle(ctx context.Context, ownerID, id string, enabled bool) (reminder.Result, error)
	Get(ctx context.Context, ownerID, id string) (store.Reminder, error)
	ListUpcoming(ctx context.Context, ownerID string) ([]store.Reminder, error)
}

// StatusFunc reports the probed scheduling capability.
type StatusFunc func(ctx context.Context) capability.Result

type Server struct {
	mcpServer *server.MCPServer
	reminders Reminders
	status    StatusFunc
	log       logx.Logger
	now       func() time.Time
	zone      string
}

type Option func(*Server)

// WithDefaultZone sets the zone used for wall-clock triggers that carry no
// timezone argument.
func WithDefaultZone(zone string) Option { return func(s *Server) { s.zone = zone } }
func WithLogger(l logx.Logger) Option    { return func(s *Server) { s.log = l } }
func WithNow(fn func() time.Time) Option { return func(s *Server) { s.now = fn } }

func New(r Reminders, status StatusFunc, version string, opts ...Option) *Server {
	s := &Server{reminders: r, status: status, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	s.mcpServer = server.NewMCPServer(serverName, version, server.WithToolCapabilities(false))
	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer { return s.mcpServer }

// ServeStdio blocks serving JSON-RPC on stdin/stdout.
func (s *Server) ServeStdio() error { return server.ServeStdio(s.mcpServer) }

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("create_reminder",
			mcp.WithDescription("Create a reminder and arm a local notification for its trigger time"),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the reminder")),
			mcp.WithString("trigger_at", mcp.Required(), mcp.Description("RFC3339, 'YYYY-MM-DD HH:MM' in timezone, or relative like '+90m'")),
			mcp.WithString("type", mcp.Description("Reminder type: feeding, sleep, immunization, medication or custom (default)")),
			mcp.WithString("timezone", mcp.Description("IANA zone for wall-clock triggers")),
			mcp.WithString("title", mcp.Description("Notification title override")),
			mcp.WithString("message", mcp.Description("Notification body override")),
			mcp.WithBoolean("disabled", mcp.Description("Store without arming")),
		),
		s.handleCreate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("edit_reminder",
			mcp.WithDescription("Change fields of a reminder; its timer is replaced"),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the reminder")),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithString("trigger_at", mcp.Description("New trigger time")),
			mcp.WithString("type", mcp.Description("New reminder type")),
			mcp.WithString("timezone", mcp.Description("New IANA zone")),
			mcp.WithString("title", mcp.Description("New notification title")),
			mcp.WithString("message", mcp.Description("New notification body")),
		),
		s.handleEdit,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("delete_reminder",
			mcp.WithDescription("Delete a reminder and cancel its timer"),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the reminder")),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDelete,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("toggle_reminder",
			mcp.WithDescription("Enable or disable a reminder"),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the reminder")),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Target state")),
		),
		s.handleToggle,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("get_reminder",
			mcp.WithDescription("Fetch one reminder"),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the reminder")),
			mcp.WithString("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleGet,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List reminders due from now on, soonest first"),
			mcp.WithString("owner_id", mcp.Required(), mcp.Description("Owner of the reminders")),
		),
		s.handleList,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("scheduling_status",
			mcp.WithDescription("Report which local notification mechanism is in use and why"),
		),
		s.handleStatus,
	)
}

func (s *Server) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner_id", "")
	if owner == "" {
		return mcp.NewToolResultError("owner_id is required"), nil
	}
	zone := req.GetString("timezone", "")
	at, err := s.parseTrigger(req.GetString("trigger_at", ""), zone)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.reminders.Create(ctx, reminder.Input{
		OwnerID:   owner,
		Type:      req.GetString("type", ""),
		TriggerAt: at,
		Timezone:  zone,
		Title:     req.GetString("title", ""),
		Message:   req.GetString("message", ""),
		Disabled:  req.GetBool("disabled", false),
	})
	if err != nil {
		return s.fail("create", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleEdit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, id, bad := ownerAndID(req)
	if bad != nil {
		return bad, nil
	}

	args := req.GetArguments()
	var ch reminder.Changes
	ch.Type = optString(args, "type")
	ch.Timezone = optString(args, "timezone")
	ch.Title = optString(args, "title")
	ch.Message = optString(args, "message")
	if raw := optString(args, "trigger_at"); raw != nil {
		zone := ""
		if ch.Timezone != nil {
			zone = *ch.Timezone
		}
		at, err := s.parseTrigger(*raw, zone)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ch.TriggerAt = &at
	}

	res, err := s.reminders.Edit(ctx, owner, id, ch)
	if err != nil {
		return s.fail("edit", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, id, bad := ownerAndID(req)
	if bad != nil {
		return bad, nil
	}
	if err := s.reminders.Delete(ctx, owner, id); err != nil {
		return s.fail("delete", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %s deleted.", id)), nil
}

func (s *Server) handleToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, id, bad := ownerAndID(req)
	if bad != nil {
		return bad, nil
	}
	enabled, ok := req.GetArguments()["enabled"].(bool)
	if !ok {
		return mcp.NewToolResultError("enabled is required and must be a boolean"), nil
	}
	res, err := s.reminders.Toggle(ctx, owner, id, enabled)
	if err != nil {
		return s.fail("toggle", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, id, bad := ownerAndID(req)
	if bad != nil {
		return bad, nil
	}
	rec, err := s.reminders.Get(ctx, owner, id)
	if err != nil {
		return s.fail("get", err), nil
	}
	return jsonResult(rec)
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := req.GetString("owner_id", "")
	if owner == "" {
		return mcp.NewToolResultError("owner_id is required"), nil
	}
	list, err := s.reminders.ListUpcoming(ctx, owner)
	if err != nil {
		return s.fail("list", err), nil
	}
	if len(list) == 0 {
		return mcp.NewToolResultText("No upcoming reminders."), nil
	}
	return jsonResult(list)
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.status(ctx))
}

func (s *Server) parseTrigger(raw, zone string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("trigger_at is required")
	}
	if zone == "" {
		zone = s.zone
	}
	return trigger.Parse(raw, zone, s.now())
}

// fail turns a lifecycle error into a tool error. Store failures are logged
// because the caller only sees the message.
func (s *Server) fail(op string, err error) *mcp.CallToolResult {
	switch {
	case reminder.IsNotFound(err):
		return mcp.NewToolResultError("reminder not found")
	case errors.Is(err, reminder.ErrInvalidTrigger), errors.Is(err, reminder.ErrInvalidInput):
		return mcp.NewToolResultError(err.Error())
	}
	s.log.Warn("mcp tool failed", logx.String("op", op), logx.Err(err))
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s reminder: %v", op, err))
}

func ownerAndID(req mcp.CallToolRequest) (owner, id string, bad *mcp.CallToolResult) {
	owner = req.GetString("owner_id", "")
	id = req.GetString("id", "")
	switch {
	case owner == "":
		return "", "", mcp.NewToolResultError("owner_id is required")
	case id == "":
		return "", "", mcp.NewToolResultError("id is required")
	}
	return owner, id, nil
}

func optString(args map[string]any, key string) *string {
	v, ok := args[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(out)), nil
}
