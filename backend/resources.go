package backend

import (
	"net/url"
)

// Resource describes a backend collection managed from the admin dashboard.
type Resource struct {
	Name      string
	Title     string
	Path      string
	ReadOnly  bool
	NoUpdate  bool
	YearQuery bool
}

var resources = map[string]*Resource{
	"penduduk":   {Name: "penduduk", Title: "Data Penduduk", Path: "/api/penduduk"},
	"pendapatan": {Name: "pendapatan", Title: "Pendapatan APBDesa", Path: "/api/apbdes/pendapatan", YearQuery: true},
	"belanja":    {Name: "belanja", Title: "Belanja APBDesa", Path: "/api/apbdes/belanja", YearQuery: true},
	"artikel":    {Name: "artikel", Title: "Artikel", Path: "/api/artikel"},
	"pengaduan":  {Name: "pengaduan", Title: "Pengaduan", Path: "/api/pengaduan", NoUpdate: true},
	"pengguna":   {Name: "pengguna", Title: "Pengguna", Path: "/api/users", NoUpdate: true},
	"chatbot":    {Name: "chatbot", Title: "Log Chatbot", Path: "/api/chatbot/logs", ReadOnly: true},
}

func LookupResource(name string) (*Resource, bool) {
	res, ok := resources[name]
	return res, ok
}

func (r *Resource) ItemPath(id string) string {
	return r.Path + "/" + url.PathEscape(id)
}
