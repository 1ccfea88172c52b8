package exchange

import (
	"bytes"
	"errors"

	"github.com/vmihailenco/msgpack/v5"
)

// Action encoding feeds the signature hash, so field order is part of the
// protocol: maps are written in the exact key order the venue hashes them.

type actionEncoder struct {
	buf bytes.Buffer
	enc *msgpack.Encoder
	err error
}

func newActionEncoder() *actionEncoder {
	e := &actionEncoder{}
	e.enc = msgpack.NewEncoder(&e.buf)
	return e
}

func (e *actionEncoder) mapLen(n int) {
	if e.err == nil {
		e.err = e.enc.EncodeMapLen(n)
	}
}

func (e *actionEncoder) arrayLen(n int) {
	if e.err == nil {
		e.err = e.enc.EncodeArrayLen(n)
	}
}

func (e *actionEncoder) str(v string) {
	if e.err == nil {
		e.err = e.enc.EncodeString(v)
	}
}

func (e *actionEncoder) strField(key, v string) {
	e.str(key)
	e.str(v)
}

func (e *actionEncoder) boolField(key string, v bool) {
	e.str(key)
	if e.err == nil {
		e.err = e.enc.EncodeBool(v)
	}
}

func (e *actionEncoder) intField(key string, v int64) {
	e.str(key)
	if e.err == nil {
		e.err = e.enc.EncodeInt(v)
	}
}

func (e *actionEncoder) anyField(key string, v any) {
	e.str(key)
	if e.err == nil {
		e.err = e.enc.Encode(v)
	}
}

func (e *actionEncoder) bytes() ([]byte, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.buf.Bytes(), nil
}

func EncodeOrderAction(action OrderAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Orders) == 0 {
		return nil, errors.New("action orders are required")
	}
	if action.Grouping == "" {
		action.Grouping = "na"
	}
	e := newActionEncoder()
	fields := 3
	if action.Builder != nil {
		fields++
	}
	e.mapLen(fields)
	e.strField("type", action.Type)
	e.str("orders")
	e.arrayLen(len(action.Orders))
	for _, order := range action.Orders {
		e.orderWire(order)
	}
	e.strField("grouping", action.Grouping)
	if action.Builder != nil {
		e.anyField("builder", action.Builder)
	}
	return e.bytes()
}

func EncodeCancelAction(action CancelAction) ([]byte, error) {
	if action.Type == "" {
		return nil, errors.New("action type is required")
	}
	if len(action.Cancels) == 0 {
		return nil, errors.New("action cancels are required")
	}
	e := newActionEncoder()
	e.mapLen(2)
	e.strField("type", action.Type)
	e.str("cancels")
	e.arrayLen(len(action.Cancels))
	for _, cancel := range action.Cancels {
		e.mapLen(2)
		e.intField("a", int64(cancel.Asset))
		e.intField("o", cancel.OrderID)
	}
	return e.bytes()
}

func (e *actionEncoder) orderWire(order OrderWire) {
	fields := 6
	if order.Cloid != "" {
		fields++
	}
	e.mapLen(fields)
	e.intField("a", int64(order.Asset))
	e.boolField("b", order.IsBuy)
	e.strField("p", order.Price)
	e.strField("s", order.Size)
	e.boolField("r", order.ReduceOnly)
	e.str("t")
	if order.OrderType.Limit == nil {
		if e.err == nil {
			e.err = errors.New("limit order type required")
		}
		return
	}
	e.mapLen(1)
	e.str("limit")
	e.mapLen(1)
	e.strField("tif", string(order.OrderType.Limit.Tif))
	if order.Cloid != "" {
		e.strField("c", order.Cloid)
	}
}
