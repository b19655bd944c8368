package p2pnftsd

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"p2pnfts/core/events"
	"p2pnfts/core/types"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, published{subject: subject, data: data})
	return nil
}

func TestPublisherSubjects(t *testing.T) {
	conn := &fakeConn{}
	pub := NewPublisher(conn, " lending.mainnet. ", nil)
	require.Equal(t, "lending.mainnet."+events.TypeLoanPaid, pub.Subject(events.TypeLoanPaid))

	pub.Emit(paid(5))
	pub.Emit(unwired{})
	require.Len(t, conn.msgs, 1)
	require.Equal(t, "lending.mainnet."+events.TypePendingTransferPaid, conn.msgs[0].subject)

	var ev types.Event
	require.NoError(t, json.Unmarshal(conn.msgs[0].data, &ev))
	require.Equal(t, events.TypePendingTransferPaid, ev.Type)
	require.Equal(t, "5", ev.Attributes["amount"])
}

func TestPublisherDefaultsAndFailures(t *testing.T) {
	pub := NewPublisher(&fakeConn{err: errors.New("broker down")}, "", nil)
	require.Equal(t, defaultSubjectPrefix+".x", pub.Subject("x"))
	require.NotPanics(t, func() { pub.Emit(paid(1)) })

	var nilPub *Publisher
	require.NotPanics(t, func() { nilPub.Emit(paid(1)) })
}
