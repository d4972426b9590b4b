package rtpsreader

import (
	log "github.com/sirupsen/logrus"

	"github.com/atostek/godds/wire"
)

// ProcessMessage dispatches every submessage in msg to the matching handler,
// in order, attributing each to the writer participant named in the message
// header. Malformed or unrecognized submessages are dropped and logged, per
// spec.md §7's error-handling design; ProcessMessage itself never returns an
// error; a whole-message decode failure is the transport layer's concern
// (see transport.Conn.ReadLoop's handle callback), not the reader's.
func (r *Reader) ProcessMessage(msg wire.Message) {
	var writerPrefix = msg.Header.GuidPrefix
	for _, sub := range msg.Submessages {
		switch m := sub.(type) {
		case wire.Data:
			r.HandleDataMsg(writerPrefix, m)
		case wire.DataFrag:
			r.HandleDataFragMsg(writerPrefix, m)
		case wire.Heartbeat:
			r.HandleHeartbeatMsg(writerPrefix, m)
		case wire.Gap:
			r.HandleGapMsg(writerPrefix, m)
		case wire.HeartbeatFrag:
			r.HandleHeartbeatFragMsg(writerPrefix, m)
		case wire.InfoDestination:
			// INFO_DESTINATION names the participant the following
			// submessages are addressed to, not their source, so the
			// writer prefix is left unchanged.
		default:
			log.WithField("type", sub).Warn("rtpsreader: unrecognized submessage, dropping")
		}
	}
}
