package daq

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/pkg/errors"
)

type uidT struct {
	UID string `json:"uid"`
}

type calSelectT struct {
	Quad int `json:"quad"`
}

type ampsT struct {
	On bool `json:"on"`
}

type injectT struct {
	Pulses int     `json:"pulses"`
	MVpp   float64 `json:"mvpp"`
}

func statusFor(err error) int {
	switch errors.Cause(err) {
	case ErrUnknownRun:
		return http.StatusNotFound
	case ErrNoRunConfig:
		return http.StatusConflict
	case ErrCalQuad:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// NewRouter exposes a Station over HTTP:
//
//	GET  /uid        board UID
//	POST /calselect  select the calibration quad, -1 for off
//	POST /surface-amps power the surface amplifiers on or off
//	POST /run-conf   set the run configuration
//	POST /run        start a run
//	GET  /run/{id}   wait for a run and return its summary
//	POST /sim/inject tell a simulated station about stimulus pulses, only if st is an Injector
func NewRouter(st Station) chi.Router {
	r := chi.NewRouter()
	r.Get("/uid", func(w http.ResponseWriter, r *http.Request) {
		uid, err := st.BoardUID(r.Context())
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		respondJSON(w, uidT{UID: uid})
	})
	r.Post("/calselect", func(w http.ResponseWriter, r *http.Request) {
		var in calSelectT
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := st.CalSelect(r.Context(), in.Quad); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/surface-amps", func(w http.ResponseWriter, r *http.Request) {
		var in ampsT
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := st.SurfaceAmps(r.Context(), in.On); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/run-conf", func(w http.ResponseWriter, r *http.Request) {
		var c RunConfig
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := c.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := st.SetRunConfig(r.Context(), c); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/run", func(w http.ResponseWriter, r *http.Request) {
		run, err := st.StartRun(r.Context())
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		respondJSON(w, run)
	})
	r.Get("/run/{id}", func(w http.ResponseWriter, r *http.Request) {
		sum, err := st.WaitRun(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		respondJSON(w, sum)
	})
	if inj, ok := st.(Injector); ok {
		r.Post("/sim/inject", func(w http.ResponseWriter, r *http.Request) {
			var in injectT
			defer r.Body.Close()
			if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if err := inj.Inject(r.Context(), in.Pulses, in.MVpp); err != nil {
				http.Error(w, err.Error(), statusFor(err))
				return
			}
			w.WriteHeader(http.StatusOK)
		})
	}
	return r
}
