package api

import "net/http"

// CORS allows any origin, method and header, and exposes the array
// description headers to browsers
func CORS(next http.Handler) http.Handler {
	exposed := HeaderTag + ", " + HeaderElementSize + ", " + HeaderLowerBounds + ", " + HeaderUpperBounds + ", " + HeaderDims
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr := w.Header()
		hdr.Set("Access-Control-Allow-Origin", "*")
		hdr.Set("Access-Control-Allow-Methods", "*")
		hdr.Set("Access-Control-Allow-Headers", "*")
		hdr.Set("Access-Control-Expose-Headers", exposed)

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
