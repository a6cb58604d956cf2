package dispatcher

import "github.com/ashmitkumar2005/rivault/pkg/types"

// redactNode strips the salted lock-secret hash before a node crosses the
// wire. spec.md promises the stored lock_secret is never returned on any
// listing or mutation response; nothing short of the hash+salt pair itself
// enables an offline brute force, so both fields are dropped rather than
// just the one.
func redactNode(n *types.Node) *types.Node {
	if n == nil {
		return nil
	}
	out := n.Clone()
	out.SecretHash = nil
	out.SecretSalt = nil
	return out
}

func redactNodes(ns []*types.Node) []*types.Node {
	out := make([]*types.Node, len(ns))
	for i, n := range ns {
		out[i] = redactNode(n)
	}
	return out
}
