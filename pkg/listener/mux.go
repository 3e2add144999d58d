package listener

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
)

// Mux collects listeners and builds one HTTP server serving all of their
// routes.
type Mux struct {
	router    *mux.Router
	listeners []Listener
	errs      *multierror.Error
}

func NewMux() *Mux {
	router := mux.NewRouter()
	router.NotFoundHandler = NotFoundHandler()
	router.MethodNotAllowedHandler = NotFoundHandler()

	return &Mux{router: router}
}

// Register takes the result of a listener constructor directly. Errors are
// reported by BuildServer.
func (m *Mux) Register(l Listener, err error) *Mux {
	if err != nil {
		m.errs = multierror.Append(m.errs, err)
		return m
	}

	m.listeners = append(m.listeners, l)

	return m
}

func (m *Mux) BuildServer(server *http.Server) (*http.Server, error) {
	if err := m.errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	if len(m.listeners) == 0 {
		return nil, errors.New("no listener registered")
	}

	for _, l := range m.listeners {
		if err := l.RegisterRoutes(m.router); err != nil {
			return nil, err
		}
	}

	server.Handler = m.router

	return server, nil
}
