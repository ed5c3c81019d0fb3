package models

// MarketRequest asks for one market's L2 view at a depth. Grouping of
// zero means ungrouped price levels.
type MarketRequest struct {
	Market   MarketId
	Depth    int
	Grouping int
}

// MarketL2 is one market's fetched result: the merged book plus the
// oracle record when the transport supplied one.
type MarketL2 struct {
	Market   MarketId
	Snapshot L2Snapshot
	Oracle   *OraclePriceData
}
