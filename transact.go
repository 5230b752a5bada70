package ovsdb

import (
	"encoding/json"

	"github.com/networkop/ovsdb-vtep/internal/rpcmux"
)

// TransactBuilder composes a batch of typed Operations into the single
// [dbName, op, op, ...] argument array the transact RPC expects (RFC 7047
// §5.2), keeping each operation's index stable so OperationResult.Rows can
// be matched back to its request.
type TransactBuilder struct {
	dbName string
	ops    []Operation
}

// NewTransactBuilder starts a batch against dbName.
func NewTransactBuilder(dbName string) *TransactBuilder {
	return &TransactBuilder{dbName: dbName}
}

// Add appends operations to the batch and returns the builder for chaining.
func (b *TransactBuilder) Add(ops ...Operation) *TransactBuilder {
	b.ops = append(b.ops, ops...)
	return b
}

// Args produces the wire argument array: [dbName, op...].
func (b *TransactBuilder) Args() []interface{} {
	args := make([]interface{}, 0, len(b.ops)+1)
	args = append(args, b.dbName)
	for _, op := range b.ops {
		args = append(args, op)
	}
	return args
}

// marshalJSON re-encodes a generically-decoded interface{} (as produced by
// the jsonrpc codec for notification params) back into bytes, so it can be
// run back through the schema-aware value codec.
func marshalJSON(v interface{}) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, newError(ErrParsing, "re-marshal", err)
	}
	return b, nil
}

// translateErr maps an *rpcmux.Error into this package's *Error taxonomy so
// callers only ever need to switch on ovsdb.KindOf.
func translateErr(err error, context string) error {
	if err == nil {
		return nil
	}
	if me, ok := err.(*rpcmux.Error); ok {
		switch me.Kind {
		case rpcmux.KindTimeout:
			return newError(ErrTimeout, context, me.Err)
		case rpcmux.KindConnectionClosed:
			return newError(ErrConnectionClosed, context, me.Err)
		case rpcmux.KindParsing:
			return newError(ErrParsing, context, me.Err)
		default:
			return newError(ErrParsing, context, me)
		}
	}
	return newError(ErrConnectionClosed, context, err)
}
