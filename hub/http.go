package hub

import (
	"log"
	"net/http"
)

func (r *Router) ServeStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	buf, ok := r.statusJSON.Load().([]byte)
	if ok {
		_, _ = w.Write(buf)
	}
}

func (r *Router) ServeSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Println("upgrade error", err)
		return
	}

	NewConn(conn, r).Init()
}
