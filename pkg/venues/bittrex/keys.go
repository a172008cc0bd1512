package bittrex

// minifiedKeys expands the venue's abbreviated wire field names to their
// documented names. Stream payloads are minified before compression; every
// key must be expanded before the payload can be decoded into a typed shape.
var minifiedKeys = map[string]string{
	"A":  "Ask",
	"a":  "Available",
	"B":  "Bid",
	"b":  "Balance",
	"C":  "Closed",
	"c":  "Currency",
	"CI": "CancelInitiated",
	"D":  "Deltas",
	"d":  "Delta",
	"DT": "OrderDeltaType",
	"E":  "Exchange",
	"e":  "ExchangeDeltaType",
	"F":  "FillType",
	"FI": "FillId",
	"f":  "Fills",
	"G":  "OpenBuyOrders",
	"g":  "OpenSellOrders",
	"H":  "High",
	"h":  "AutoSell",
	"I":  "Id",
	"i":  "IsOpen",
	"J":  "Condition",
	"j":  "ConditionTarget",
	"K":  "ImmediateOrCancel",
	"k":  "IsConditional",
	"L":  "Low",
	"l":  "Last",
	"M":  "MarketName",
	"m":  "BaseVolume",
	"N":  "Nonce",
	"n":  "CommissionPaid",
	"O":  "Orders",
	"o":  "Order",
	"OT": "OrderType",
	"OU": "OrderUuid",
	"P":  "Price",
	"p":  "CryptoAddress",
	"PD": "PrevDay",
	"PU": "PricePerUnit",
	"Q":  "Quantity",
	"q":  "QuantityRemaining",
	"R":  "Rate",
	"r":  "Requested",
	"S":  "Sells",
	"s":  "Summaries",
	"T":  "TimeStamp",
	"t":  "Total",
	"TY": "Type",
	"U":  "Uuid",
	"u":  "Updated",
	"V":  "Volume",
	"W":  "AccountId",
	"w":  "AccountUuid",
	"X":  "Limit",
	"x":  "Created",
	"Y":  "Opened",
	"y":  "State",
	"Z":  "Buys",
	"z":  "Pending",
}

// expandKeys recursively renames minified keys in a decoded JSON value.
// Unknown keys are kept as-is rather than dropped.
func expandKeys(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			name, ok := minifiedKeys[k]
			if !ok {
				name = k
			}
			out[name] = expandKeys(inner)
		}
		return out
	case []any:
		for i := range val {
			val[i] = expandKeys(val[i])
		}
		return val
	default:
		return v
	}
}
