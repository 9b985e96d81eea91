package t402

import "fmt"

// ValidatePaymentPayload performs basic structural validation on a payment payload
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.T402Version < ProtocolVersionV1 || p.T402Version > ProtocolVersion {
		return fmt.Errorf("unsupported t402 version: %d", p.T402Version)
	}
	if p.Accepted.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if p.Accepted.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if p.Payload == nil {
		return fmt.Errorf("payment payload is required")
	}
	return nil
}

// ValidatePaymentRequirements performs basic structural validation on payment requirements
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	// Amount is not checked here: v1 carries it as maxAmountRequired and the
	// version-specific facilitator path validates whichever field applies.
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	return nil
}

// findByNetworkAndScheme resolves a scheme implementation for a
// network/scheme pair. Exact network entries win over wildcard patterns
// like "eip155:*"; the zero value means not found.
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) T {
	var zero T

	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl
		}
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) || registeredNetwork.Match(network) {
			if impl, exists := schemeMap[scheme]; exists {
				return impl
			}
		}
	}

	return zero
}

// findSchemesByNetwork finds all scheme implementations registered for a
// network, exact entries first, then wildcard patterns.
func findSchemesByNetwork[T any](networkMap map[Network]map[string]T, network Network) map[string]T {
	if schemeMap, exists := networkMap[network]; exists {
		return schemeMap
	}

	for registeredNetwork, schemeMap := range networkMap {
		if network.Match(registeredNetwork) || registeredNetwork.Match(network) {
			return schemeMap
		}
	}

	return nil
}
