package knowledge

import (
	"context"
	"encoding/json"

	"github.com/theapemachine/a2a-core/pkg/a2a"
	"github.com/theapemachine/a2a-core/pkg/errors"
)

/*
Subscribe opens a change-event stream filtered by the subscription
query.  The dispatcher recognizes the returned subscription and keeps
the connection open as a server-sent event stream.
*/
func Subscribe(
	ctx context.Context,
	raw json.RawMessage,
	store *Store,
) (any, *errors.RpcError) {
	var params a2a.KnowledgeSubscribeParams

	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, errors.ErrInvalidParams
	}

	sub, rpcErr := store.Subscribe(ctx, params)

	if rpcErr != nil {
		return nil, rpcErr
	}

	return sub, nil
}
