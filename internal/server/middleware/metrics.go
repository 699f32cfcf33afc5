package middleware

import "net/http"

// Metrics returns middleware that reports every finished request to the
// observe callback. The callback is wired to the Prometheus request counter;
// keeping it a plain func avoids a metrics dependency here.
func Metrics(observe func(method string, status int)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rw, r)
			observe(r.Method, rw.statusCode)
		})
	}
}
