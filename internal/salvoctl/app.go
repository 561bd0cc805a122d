package salvoctl

import (
	"io"
	"os"

	"github.com/salvoproject/salvo/pkg/client"
)

// App is the salvoctl application object. Commands parse arguments and
// delegate here; Out is swapped for a buffer in tests.
type App struct {
	Params *Params
	Out    io.Writer
}

type Params struct {
	ApiConnectionDetails *client.ApiConnectionDetails
}

func New() *App {
	return &App{
		Params: &Params{ApiConnectionDetails: &client.ApiConnectionDetails{}},
		Out:    os.Stdout,
	}
}

func (a *App) apiClient() *client.ApiClient {
	return client.NewApiClient(a.Params.ApiConnectionDetails)
}
