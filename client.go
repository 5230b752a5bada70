package ovsdb

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/networkop/ovsdb-vtep/internal/depqueue"
	"github.com/networkop/ovsdb-vtep/internal/deviceinfo"
	"github.com/networkop/ovsdb-vtep/internal/rpcmux"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultTCPAddress  = "127.0.0.1:6640"
	defaultUnixAddress = "/var/run/openvswitch/db.sock"
)

const (
	schemeTCP  = "tcp"
	schemeUnix = "unix"
	schemeSSL  = "ssl"
)

// MonitorCallBack receives decoded monitor updates, paired with the schema
// used to decode them (spec §9: "single-method sink receiving
// (TableUpdates, DatabaseSchema)").
type MonitorCallBack interface {
	Update(updates *TableUpdates, schema *DatabaseSchema)
}

// monitorEntry is what the Client keeps per registered MonitorHandle.
type monitorEntry struct {
	schema *DatabaseSchema
	cb     MonitorCallBack
}

// ConnectionInfo is a snapshot of how the session was established, per
// spec §6's recognized configuration options.
type ConnectionInfo struct {
	LocalAddr            string
	RemoteAddr           string
	ConnectionType       ConnectionType
	SocketConnectionType SocketConnectionType
}

// Client is the OVSDB Client Façade (spec §4.4): one multiplexed session,
// a per-database schema cache, monitor-handle routing, and the owned
// device-info registry and dependency queue for the hardware-VTEP
// companion.
type Client struct {
	cfg  *clientConfig
	mux  *rpcmux.Multiplexer
	conn net.Conn

	Registry *deviceinfo.Registry
	Queue    *depqueue.Queue

	mu        sync.Mutex
	schemas   map[string]*DatabaseSchema
	monitors  map[string]*monitorEntry
	closed    bool
	published bool
	connInfo  ConnectionInfo

	closeOnce sync.Once
	logger    *logrus.Entry

	lifecycleCtx    context.Context
	lifecycleCancel context.CancelFunc
}

// Connect dials endpoints (a comma-separated list of "tcp:host:port",
// "unix:/path" or "ssl:host:port" URIs, tried in order) and returns a
// Client wrapping the first successful connection. tlsConfig is only
// consulted for the "ssl" scheme.
func Connect(endpoints string, tlsConfig *tls.Config, opts ...ClientOption) (*Client, error) {
	var c net.Conn
	var err error

	for _, endpoint := range strings.Split(endpoints, ",") {
		u, perr := url.Parse(endpoint)
		if perr != nil {
			err = perr
			continue
		}
		host := u.Opaque
		switch u.Scheme {
		case schemeUnix:
			path := u.Path
			if path == "" {
				path = defaultUnixAddress
			}
			c, err = net.Dial(schemeUnix, path)
		case schemeTCP:
			if host == "" {
				host = defaultTCPAddress
			}
			c, err = net.Dial(schemeTCP, host)
		case schemeSSL:
			if host == "" {
				host = defaultTCPAddress
			}
			c, err = tls.Dial("tcp", host, tlsConfig)
		default:
			err = fmt.Errorf("ovsdb: unknown network protocol %q", u.Scheme)
			continue
		}
		if err == nil {
			break
		}
	}
	if err != nil || c == nil {
		return nil, fmt.Errorf("ovsdb: failed to connect to endpoints %q: %w", endpoints, err)
	}

	cfg := defaultClientConfig()
	for _, o := range opts {
		o(cfg)
	}

	client := &Client{
		cfg:      cfg,
		conn:     c,
		schemas:  make(map[string]*DatabaseSchema),
		monitors: make(map[string]*monitorEntry),
		Registry: deviceinfo.New(cfg.inTransitExpiry),
		logger:   logrus.WithField("component", "ovsdb.Client"),
		connInfo: ConnectionInfo{
			LocalAddr:            c.LocalAddr().String(),
			RemoteAddr:           c.RemoteAddr().String(),
			ConnectionType:       cfg.connectionType,
			SocketConnectionType: cfg.socketConnectionType,
		},
	}
	client.Queue = depqueue.New(client.Registry, 4)
	client.mux = rpcmux.New(c)
	client.mux.RegisterSink(client)

	client.lifecycleCtx, client.lifecycleCancel = context.WithCancel(context.Background())
	client.Queue.StartExpirySweeper(client.lifecycleCtx, cfg.inTransitExpiry/2)

	go client.watchDisconnect()

	return client, nil
}

func (c *Client) watchDisconnect() {
	<-c.mux.DisconnectNotify()
	c.Disconnect()
}

// Update implements rpcmux.Sink. params is [<json-value>, <table-updates>]
// per RFC 7047 §4.1.6; jsonCtx is the MonitorHandle the caller supplied
// when registering the subscription.
func (c *Client) Update(jsonCtx interface{}, params []interface{}) {
	if len(params) < 2 {
		c.logger.Warn("update notification: malformed params")
		return
	}
	handle, ok := jsonCtx.(string)
	if !ok {
		c.logger.WithField("context", jsonCtx).Warn("update notification: unrecognized context")
		return
	}

	c.mu.Lock()
	entry, ok := c.monitors[handle]
	c.mu.Unlock()
	if !ok {
		c.logger.WithField("handle", handle).Debug("update notification: unknown handle, dropping")
		return
	}

	raw, err := marshalJSON(params[1])
	if err != nil {
		c.logger.WithError(err).Warn("update notification: re-marshal failed")
		return
	}
	updates, err := TableUpdatesFromJSON(entry.schema, raw)
	if err != nil {
		c.logger.WithError(err).Warn("update notification: decode failed")
		return
	}
	entry.cb.Update(updates, entry.schema)
}

// Locked implements rpcmux.Sink. Lock support is unimplemented (spec §7,
// §9 open question); this only logs so the RPC multiplexer always has a
// usable sink.
func (c *Client) Locked(params []interface{}) {
	c.logger.WithField("params", params).Debug("locked notification (lock family unimplemented)")
}

// Stolen implements rpcmux.Sink.
func (c *Client) Stolen(params []interface{}) {
	c.logger.WithField("params", params).Debug("stolen notification (lock family unimplemented)")
}

// ListDatabases issues list_dbs.
func (c *Client) ListDatabases(ctx context.Context) ([]string, error) {
	var dbs []string
	_, err := c.mux.Call("list_dbs", []interface{}{}, &dbs).Wait(ctx, 0)
	if err != nil {
		return nil, translateErr(err, "list_dbs")
	}
	return dbs, nil
}

// GetSchema returns the cached DatabaseSchema for dbName if present,
// otherwise fetches, parses, and caches it (spec §4.4).
func (c *Client) GetSchema(ctx context.Context, dbName string) (*DatabaseSchema, error) {
	c.mu.Lock()
	if s, ok := c.schemas[dbName]; ok {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	var raw json.RawMessage
	_, err := c.mux.Call("get_schema", []interface{}{dbName}, &raw).Wait(ctx, 0)
	if err != nil {
		return nil, translateErr(err, "get_schema")
	}
	schema, err := DatabaseSchemaFromJSON(raw)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.schemas[dbName] = schema
	c.published = true
	c.mu.Unlock()
	return schema, nil
}

// Transact builds a single transact request from ops and decodes the
// heterogeneous per-operation result list (spec §4.4, §4.2 RFC 7047 §5.2).
// Any operation carrying a DeviceKeyRef is marked IN_TRANSIT on the
// registry's config side before the request is sent, and confirmed or
// rejected once the result for that operation's index is known (spec §3:
// "mutated by ... the transact path, caller-originated, marking keys
// IN_TRANSIT until the operation result confirms or rejects"). The wire
// call itself is dispatched through the dependency queue's shared worker
// pool so ordinary transactions and dependency-driven replays share
// ordering discipline (spec §4.6).
func (c *Client) Transact(ctx context.Context, schema *DatabaseSchema, ops ...Operation) ([]OperationResult, error) {
	if !schema.validateOperations(ops...) {
		return nil, newError(ErrParsing, "transact: operation referenced an unknown table or column", nil)
	}

	for _, op := range ops {
		if op.DeviceKey != nil {
			c.Registry.MarkConfigKeyInTransit(op.DeviceKey.Class, op.DeviceKey.Key)
		}
	}

	builder := NewTransactBuilder(schema.Name).Add(ops...)

	var results []OperationResult
	dispatchErr := c.Queue.Dispatch(ctx, func(ctx context.Context) error {
		_, err := c.mux.Call("transact", builder.Args(), &results).Wait(ctx, 0)
		return err
	})

	c.resolveDeviceKeys(ops, results, dispatchErr)

	if dispatchErr != nil {
		return nil, translateErr(dispatchErr, "transact")
	}
	return results, nil
}

// resolveDeviceKeys confirms or rejects every DeviceKeyRef-tagged
// operation's registry entry once the transact result (or dispatch error)
// is known.
func (c *Client) resolveDeviceKeys(ops []Operation, results []OperationResult, dispatchErr error) {
	for i, op := range ops {
		if op.DeviceKey == nil {
			continue
		}
		if dispatchErr != nil || i >= len(results) || results[i].Failed() {
			c.Registry.RejectConfigData(op.DeviceKey.Class, op.DeviceKey.Key)
			continue
		}
		c.Registry.ConfirmConfigData(op.DeviceKey.Class, op.DeviceKey.Key, results[i].UUID.GoUUID, op.Row)
	}
}

// Monitor allocates a fresh random MonitorHandle, registers (handle, cb,
// schema), sends the monitor request, and returns the decoded initial
// snapshot synchronously.
func (c *Client) Monitor(ctx context.Context, schema *DatabaseSchema, requests map[string]MonitorRequest, cb MonitorCallBack, timeout time.Duration) (*TableUpdates, string, error) {
	handle := uuid.NewString()
	updates, err := c.MonitorWithHandle(ctx, schema, requests, handle, cb, timeout)
	return updates, handle, err
}

// MonitorWithHandle is Monitor's resume-friendly overload: the caller
// supplies the MonitorHandle instead of one being allocated.
func (c *Client) MonitorWithHandle(ctx context.Context, schema *DatabaseSchema, requests map[string]MonitorRequest, handle string, cb MonitorCallBack, timeout time.Duration) (*TableUpdates, error) {
	c.mu.Lock()
	c.monitors[handle] = &monitorEntry{schema: schema, cb: cb}
	c.mu.Unlock()

	if timeout == NoMonitorTimeout {
		timeout = c.cfg.monitorDefaultTimeout
	}

	var raw json.RawMessage
	_, err := c.mux.Call("monitor", []interface{}{schema.Name, handle, requests}, &raw).Wait(ctx, timeout)
	if err != nil {
		c.mu.Lock()
		delete(c.monitors, handle)
		c.mu.Unlock()
		return nil, translateErr(err, "monitor")
	}
	updates, err := TableUpdatesFromJSON(schema, raw)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// MonitorAll is a convenience wrapper that subscribes to every column of
// every table in schema.
func (c *Client) MonitorAll(ctx context.Context, schema *DatabaseSchema, cb MonitorCallBack, timeout time.Duration) (*TableUpdates, string, error) {
	requests := make(map[string]MonitorRequest, len(schema.Tables))
	for name, table := range schema.Tables {
		columns := make([]string, 0, len(table.Columns))
		for col := range table.Columns {
			columns = append(columns, col)
		}
		requests[name] = MonitorRequest{
			Columns: columns,
			Select:  MonitorSelect{Initial: true, Insert: true, Delete: true, Modify: true},
		}
	}
	return c.Monitor(ctx, schema, requests, cb, timeout)
}

// CancelMonitor issues monitor_cancel. Per spec §4.4 this is best-effort:
// a timeout or I/O error is logged and swallowed rather than returned,
// since the handler may legitimately remain registered until the session
// closes.
func (c *Client) CancelMonitor(ctx context.Context, handle string, timeout time.Duration) {
	if timeout == NoMonitorTimeout {
		timeout = c.cfg.monitorDefaultTimeout
	}
	var reply OperationResult
	_, err := c.mux.Call("monitor_cancel", []interface{}{handle}, &reply).Wait(ctx, timeout)
	if err != nil {
		c.logger.WithError(err).WithField("handle", handle).Warn("monitor_cancel failed (best-effort)")
	}
	c.mu.Lock()
	delete(c.monitors, handle)
	c.mu.Unlock()
}

// Echo issues an echo request, mostly useful as a liveness probe.
func (c *Client) Echo(ctx context.Context) error {
	var reply []interface{}
	_, err := c.mux.Call("echo", []interface{}{}, &reply).Wait(ctx, 0)
	if err != nil {
		return translateErr(err, "echo")
	}
	return nil
}

// Lock, Steal, and Unlock are accepted but report Unimplemented until the
// lock family is built out (spec §7, §9 open question).
func (c *Client) Lock(ctx context.Context, id string) error {
	return newError(ErrUnimplemented, "lock", nil)
}

func (c *Client) Steal(ctx context.Context, id string) error {
	return newError(ErrUnimplemented, "steal", nil)
}

func (c *Client) Unlock(ctx context.Context, id string) error {
	return newError(ErrUnimplemented, "unlock", nil)
}

// IsReady polls the schema cache once per second until it is non-empty or
// timeout elapses. Intended for integration tests only (spec §4.4). The
// once-per-second cadence is enforced by a rate.Limiter rather than a
// hand-rolled time.Sleep busy loop.
func (c *Client) IsReady(timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
		c.mu.Lock()
		ready := len(c.schemas) > 0
		c.mu.Unlock()
		if ready {
			return true
		}
	}
}

// IsActive reports whether the session has not been disconnected.
func (c *Client) IsActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// IsConnectionPublished reports whether at least one schema has been
// fetched and cached, the point at which the connection is considered
// usable for transact/monitor traffic.
func (c *Client) IsConnectionPublished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published
}

// GetConnectionInfo returns the snapshot captured at Connect time.
func (c *Client) GetConnectionInfo() ConnectionInfo {
	return c.connInfo
}

// Disconnect cancels every pending future with ConnectionClosed, stops
// delivering monitor notifications, and closes the underlying socket. It
// is idempotent.
func (c *Client) Disconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.monitors = make(map[string]*monitorEntry)
		c.mu.Unlock()

		if c.lifecycleCancel != nil {
			c.lifecycleCancel()
		}
		c.mux.Close()
	})
}
