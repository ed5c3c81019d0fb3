package protocol

import (
	"fmt"

	"dlobflow/models"
)

// OracleSource identifies the oracle program a price account belongs
// to.
type OracleSource string

const (
	OraclePyth        OracleSource = "pyth"
	OraclePythPull    OracleSource = "pyth_pull"
	OracleSwitchboard OracleSource = "switchboard"
	OraclePrelaunch   OracleSource = "prelaunch"
)

// OracleDecoder turns a raw oracle account into OraclePriceData at a
// given slot.
type OracleDecoder func(accountData []byte, slot uint64) (models.OraclePriceData, error)

// OracleDecoderTable maps each oracle source to its decoder. It is
// resolved once at construction and looked up by key afterwards; there
// is no inheritance-style dispatch.
type OracleDecoderTable struct {
	decoders map[OracleSource]OracleDecoder
}

// NewOracleDecoderTable builds a table from the provided decoders.
func NewOracleDecoderTable(decoders map[OracleSource]OracleDecoder) *OracleDecoderTable {
	table := make(map[OracleSource]OracleDecoder, len(decoders))
	for src, dec := range decoders {
		table[src] = dec
	}
	return &OracleDecoderTable{decoders: table}
}

// Decode dispatches to the decoder registered for the source.
func (t *OracleDecoderTable) Decode(source OracleSource, accountData []byte, slot uint64) (models.OraclePriceData, error) {
	dec, ok := t.decoders[source]
	if !ok {
		return models.OraclePriceData{}, fmt.Errorf("no oracle decoder registered for source %q", source)
	}
	return dec(accountData, slot)
}

// Sources lists the registered oracle sources.
func (t *OracleDecoderTable) Sources() []OracleSource {
	out := make([]OracleSource, 0, len(t.decoders))
	for src := range t.decoders {
		out = append(out, src)
	}
	return out
}
