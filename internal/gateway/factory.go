package gateway

import (
	"fmt"

	"trading-gateway/pkg/config"
	"trading-gateway/pkg/venues/binance"
	"trading-gateway/pkg/venues/bittrex"
	"trading-gateway/pkg/venues/common"
	"trading-gateway/pkg/venues/emulator"
	"trading-gateway/pkg/venues/poloniex"
)

// emulatorKey in a venue's apiKey field swaps the live connector for the
// in-memory emulator, which keeps reporting under the venue's own id.
const emulatorKey = "emulator"

// BuildConnector creates the connector for one configured venue.
func BuildConnector(v config.Venue) (common.Connector, error) {
	if v.APIKey == emulatorKey {
		return emulator.New(emulator.Config{VenueID: v.ID}), nil
	}

	switch v.ID {
	case binance.VenueID:
		return binance.New(binance.Config{
			APIKey:    v.APIKey,
			APISecret: v.APISecret,
			BaseURL:   v.BaseURL,
			StreamURL: v.StreamURL,
		}), nil

	case bittrex.VenueID:
		return bittrex.New(bittrex.Config{
			APIKey:    v.APIKey,
			APISecret: v.APISecret,
			BaseURL:   v.BaseURL,
			StreamURL: v.StreamURL,
		}), nil

	case poloniex.VenueID:
		return poloniex.New(poloniex.Config{
			APIKey:    v.APIKey,
			APISecret: v.APISecret,
			PublicURL: v.BaseURL,
			StreamURL: v.StreamURL,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported venue: %s", v.ID)
	}
}

// BuildConnectors creates connectors for the whole roster.
func BuildConnectors(venues []config.Venue) ([]common.Connector, error) {
	out := make([]common.Connector, 0, len(venues))
	for _, v := range venues {
		conn, err := BuildConnector(v)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, nil
}
