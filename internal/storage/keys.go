package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Yusufzhafir/go-matching-engine/backend/pkg/model"
)

// Key schema
//
//	seq:order                         → last assigned order id (8-byte big endian)
//	seq:trade                         → last assigned trade id
//	ord:{orderID}                     → order record (JSON)
//	open:{instrument}\x00{orderID}    → present while the order is not complete
//	uord:{userID}:{orderID}           → user order index
//	trd:{tradeID}                     → trade (JSON)
//	otr:{orderID}:{tradeID}           → trades of an order, in settlement order
//	ins:{instrumentID}                → instrument (JSON)
//
// Numeric segments are zero padded to 20 digits so lexical order equals numeric order.
const (
	prefixOrder      = "ord:"
	prefixOpen       = "open:"
	prefixUserOrder  = "uord:"
	prefixTrade      = "trd:"
	prefixOrderTrade = "otr:"
	prefixInstrument = "ins:"
)

var (
	keyOrderSeq = []byte("seq:order")
	keyTradeSeq = []byte("seq:trade")
)

func pad(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func orderKey(id model.OrderId) []byte {
	return []byte(prefixOrder + pad(uint64(id)))
}

func openPrefix(instrumentID string) []byte {
	return []byte(prefixOpen + instrumentID + "\x00")
}

func openKey(instrumentID string, id model.OrderId) []byte {
	return append(openPrefix(instrumentID), pad(uint64(id))...)
}

func userOrderPrefix(userID int64) []byte {
	return []byte(prefixUserOrder + pad(uint64(userID)) + ":")
}

func userOrderKey(userID int64, id model.OrderId) []byte {
	return append(userOrderPrefix(userID), pad(uint64(id))...)
}

func tradeKey(id model.TradeId) []byte {
	return []byte(prefixTrade + pad(uint64(id)))
}

func orderTradePrefix(orderID model.OrderId) []byte {
	return []byte(prefixOrderTrade + pad(uint64(orderID)) + ":")
}

func orderTradeKey(orderID model.OrderId, tradeID model.TradeId) []byte {
	return append(orderTradePrefix(orderID), pad(uint64(tradeID))...)
}

func instrumentKey(id string) []byte {
	return []byte(prefixInstrument + id)
}

// idSuffix parses the trailing zero padded id of an index key.
func idSuffix(key []byte) (uint64, error) {
	s := string(key)
	i := strings.LastIndexAny(s, ":\x00")
	return strconv.ParseUint(s[i+1:], 10, 64)
}

// keyUpperBound returns the smallest key greater than every key with the given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
