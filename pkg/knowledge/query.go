package knowledge

import (
	"context"
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

func Query(
	ctx context.Context,
	raw json.RawMessage,
	store *Store,
) (any, *errors.RpcError) {
	var params a2a.KnowledgeQueryParams

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.ErrInvalidParams
	}

	result, rpcErr := store.Query(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	return result, nil
}
