// Package runnerhandler serves POST /api/register on top of registration.Registrar
// and provides a client for it.
//
//	handler := runnerhandler.NewHandler(registrar, logger)
//	handler.RegisterRoutes(router)
//
//	client := &runnerhandler.Client{ServerAddr: "http://127.0.0.1:8080"}
//	resp, err := client.Register(ctx, &api.RegisterRequest{...})
package runnerhandler
