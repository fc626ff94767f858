package bridge

import "testnet-automation/pkg/shared"

type Direction int

const (
	SepoliaToIthaca Direction = iota
	IthacaToSepolia
)

func (d Direction) String() string {
	switch d {
	case SepoliaToIthaca:
		return "sepolia_to_ithaca"
	case IthacaToSepolia:
		return "ithaca_to_sepolia"
	default:
		return "unknown"
	}
}

func (d Direction) Source() shared.Chain {
	if d == IthacaToSepolia {
		return shared.Ithaca
	}
	return shared.Sepolia
}

func (d Direction) Destination() shared.Chain {
	if d == IthacaToSepolia {
		return shared.Sepolia
	}
	return shared.Ithaca
}

// Directions lists every direction in the order they are attempted.
var Directions = []Direction{SepoliaToIthaca, IthacaToSepolia}

type State int

const (
	Idle State = iota
	RouteRequested
	RouteSelected
	TxBuilt
	TxSubmitted
	ConfirmationPolling
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RouteRequested:
		return "route_requested"
	case RouteSelected:
		return "route_selected"
	case TxBuilt:
		return "tx_built"
	case TxSubmitted:
		return "tx_submitted"
	case ConfirmationPolling:
		return "confirmation_polling"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
