package multisig

import (
	"github.com/xssnick/tonwallet/address"
	"github.com/xssnick/tonwallet/ton"
)

// FilterEffects removes the host wallet to multisig leg from an emulated preview and
// puts the legs the order will send in its place, so the preview shows what the user asked for.
func FilterEffects(preview *ton.EffectPreview, multisig *address.Address, actions []Action) *ton.EffectPreview {
	res := &ton.EffectPreview{Fee: preview.Fee}

	for _, leg := range preview.Legs {
		if leg.Destination != nil && leg.Destination.Equals(multisig) {
			continue
		}
		res.Legs = append(res.Legs, leg)
	}

	for _, a := range actions {
		sm, ok := a.(SendMessage)
		if !ok || sm.Message == nil {
			continue
		}
		res.Legs = append(res.Legs, ton.Leg{
			Destination: sm.Message.Destination(),
			Amount:      sm.Message.Amount(),
			Body:        sm.Message.Body(),
		})
	}
	return res
}
