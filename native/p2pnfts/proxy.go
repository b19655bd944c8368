package p2pnfts

import (
	"github.com/ethereum/go-ethereum/common"

	"p2pnfts/core/events"
)

// actor resolves who a call acts for. A sender naming another account in
// OnBehalfOf must be an authorized proxy; otherwise the call fails with
// denied, the error of the check the proxy was trying to pass.
func (e *Engine) actor(call Call, denied error) (common.Address, error) {
	if call.OnBehalfOf == (common.Address{}) || call.OnBehalfOf == call.Sender {
		return call.Sender, nil
	}
	allowed, err := e.state.ProxyAuthorized(call.Sender)
	if err != nil {
		return common.Address{}, err
	}
	if !allowed {
		return common.Address{}, denied
	}
	return call.OnBehalfOf, nil
}

// SetProxyAuthorization allows or disallows proxy to act for users.
func (e *Engine) SetProxyAuthorization(caller, proxy common.Address, allowed bool) error {
	return e.run("set_proxy_authorization", func(uint64) error {
		if err := e.ownership.RequireOwner(caller); err != nil {
			return err
		}
		if proxy == (common.Address{}) {
			return ErrZeroAddress
		}
		if err := e.state.SetProxyAuthorized(proxy, allowed); err != nil {
			return err
		}
		e.buffer.Emit(events.ProxyAuthorizationChanged{Market: e.cfg.Address, Proxy: proxy, Allowed: allowed})
		return nil
	})
}

func (e *Engine) IsProxyAuthorized(proxy common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.state.ProxyAuthorized(proxy)
}
