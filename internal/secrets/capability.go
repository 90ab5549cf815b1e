package secrets

import (
	"context"
	"fmt"

	"github.com/roach88/verdict/internal/capability"
	"github.com/roach88/verdict/internal/envelope"
)

// Handler serves GetSecret from store. An absent secret is answered with an
// empty value; deciding whether that is fatal belongs to the caller. A
// namespaced request looks up "<namespace>/<id>".
func Handler(store Store) capability.Handler {
	return capability.Methods{
		capability.MethodGetSecret: func(ctx context.Context, req capability.Request) (envelope.Message, error) {
			in, err := capability.DecodeRequest[*envelope.SecretRequest](req)
			if err != nil {
				return nil, err
			}
			if in.ID == "" {
				return nil, &capability.CapabilityError{Code: capability.CodeBadRequest, Target: req.TargetID, Message: "empty secret id"}
			}
			key := in.ID
			if in.Namespace != "" {
				key = in.Namespace + "/" + in.ID
			}
			value, _, err := store.Lookup(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("lookup secret %s: %w", key, err)
			}
			return &envelope.SecretResponse{ID: in.ID, Value: value}, nil
		},
	}
}
