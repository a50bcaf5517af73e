package web

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-desa/backend"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindTextarea
	kindNumber
	kindSelect
	kindPassword
)

// field is one form input with the validator rule applied to its raw value.
type field struct {
	Name       string
	Label      string
	Kind       fieldKind
	Rule       string
	Message    string
	Options    []string
	CreateOnly bool
}

func (f field) Textarea() bool { return f.Kind == kindTextarea }
func (f field) Select() bool   { return f.Kind == kindSelect }

func (f field) InputType() string {
	switch f.Kind {
	case kindNumber:
		return "number"
	case kindPassword:
		return "password"
	}
	return "text"
}

func (f field) Required() bool {
	return strings.HasPrefix(f.Rule, "required")
}

type form struct {
	Fields  []field
	Values  map[string]string
	Errors  map[string]string
	Message string
}

func (f *form) Value(name string) string { return f.Values[name] }
func (f *form) Error(name string) string { return f.Errors[name] }

func (f *form) Invalid() bool {
	return len(f.Errors) > 0 || f.Message != ""
}

var letterFields = []field{
	{Name: "nama", Label: "Nama lengkap", Rule: "required", Message: "Nama wajib diisi"},
	{Name: "nik", Label: "NIK", Rule: "required,numeric,len=16", Message: "NIK harus 16 digit angka"},
	{Name: "jenis_surat", Label: "Jenis surat", Kind: kindSelect, Rule: "required", Message: "Pilih jenis surat",
		Options: []string{"Surat Keterangan Domisili", "Surat Keterangan Usaha", "Surat Keterangan Tidak Mampu", "Surat Pengantar"}},
	{Name: "keperluan", Label: "Keperluan", Kind: kindTextarea, Rule: "required", Message: "Keperluan wajib diisi"},
	{Name: "telepon", Label: "Telepon", Rule: "omitempty,numeric,min=8,max=15", Message: "Nomor telepon tidak valid"},
}

var complaintFields = []field{
	{Name: "nama", Label: "Nama", Rule: "required", Message: "Nama wajib diisi"},
	{Name: "kontak", Label: "Kontak (telepon atau email)", Rule: "required", Message: "Kontak wajib diisi"},
	{Name: "judul", Label: "Judul", Rule: "required,max=150", Message: "Judul wajib diisi"},
	{Name: "isi", Label: "Isi pengaduan", Kind: kindTextarea, Rule: "required", Message: "Isi pengaduan wajib diisi"},
}

var loginFields = []field{
	{Name: "username", Label: "Username", Rule: "required", Message: "Username wajib diisi"},
	{Name: "password", Label: "Password", Kind: kindPassword, Rule: "required", Message: "Password wajib diisi"},
}

var configFields = []field{
	{Name: "nama_desa", Label: "Nama desa", Rule: "required", Message: "Nama desa wajib diisi"},
	{Name: "kepala_desa", Label: "Kepala desa"},
	{Name: "alamat", Label: "Alamat kantor"},
	{Name: "kecamatan", Label: "Kecamatan"},
	{Name: "kabupaten", Label: "Kabupaten"},
	{Name: "provinsi", Label: "Provinsi"},
	{Name: "kode_pos", Label: "Kode pos", Rule: "omitempty,numeric,len=5", Message: "Kode pos harus 5 digit"},
	{Name: "telepon", Label: "Telepon", Rule: "omitempty,numeric", Message: "Telepon hanya berisi angka"},
	{Name: "email", Label: "Email", Rule: "omitempty,email", Message: "Email tidak valid"},
	{Name: "visi", Label: "Visi", Kind: kindTextarea},
	{Name: "misi", Label: "Misi", Kind: kindTextarea},
	{Name: "sejarah", Label: "Sejarah", Kind: kindTextarea},
	{Name: "luas_wilayah", Label: "Luas wilayah (ha)", Kind: kindNumber, Rule: "omitempty,numeric", Message: "Luas wilayah harus angka"},
	{Name: "latitude", Label: "Latitude", Kind: kindNumber, Rule: "omitempty,latitude", Message: "Latitude tidak valid"},
	{Name: "longitude", Label: "Longitude", Kind: kindNumber, Rule: "omitempty,longitude", Message: "Longitude tidak valid"},
	{Name: "logo_url", Label: "URL logo", Rule: "omitempty,url", Message: "URL tidak valid"},
	{Name: "tahun_anggaran", Label: "Tahun anggaran", Kind: kindNumber, Rule: "omitempty,number,len=4", Message: "Tahun harus 4 digit"},
}

var complaintStatuses = []string{"baru", "diproses", "selesai", "ditolak"}

var budgetFields = []field{
	{Name: "tahun", Label: "Tahun", Kind: kindNumber, Rule: "required,number,len=4", Message: "Tahun harus 4 digit"},
	{Name: "kategori", Label: "Kategori", Rule: "required", Message: "Kategori wajib diisi"},
	{Name: "uraian", Label: "Uraian", Rule: "required", Message: "Uraian wajib diisi"},
	{Name: "anggaran", Label: "Anggaran (Rp)", Kind: kindNumber, Rule: "required,numeric", Message: "Anggaran harus angka"},
	{Name: "realisasi", Label: "Realisasi (Rp)", Kind: kindNumber, Rule: "omitempty,numeric", Message: "Realisasi harus angka"},
}

// resourceFields lists the editable columns of each admin resource. Read-only
// resources have none and show every column the backend returns.
var resourceFields = map[string][]field{
	"penduduk": {
		{Name: "nik", Label: "NIK", Rule: "required,numeric,len=16", Message: "NIK harus 16 digit angka"},
		{Name: "no_kk", Label: "No. KK", Rule: "omitempty,numeric,len=16", Message: "No. KK harus 16 digit angka"},
		{Name: "nama", Label: "Nama", Rule: "required", Message: "Nama wajib diisi"},
		{Name: "jenis_kelamin", Label: "Jenis kelamin", Kind: kindSelect, Rule: "required,oneof=L P", Message: "Pilih L atau P", Options: []string{"L", "P"}},
		{Name: "tanggal_lahir", Label: "Tanggal lahir (YYYY-MM-DD)", Rule: "omitempty,datetime=2006-01-02", Message: "Format tanggal YYYY-MM-DD"},
		{Name: "alamat", Label: "Alamat", Rule: "required", Message: "Alamat wajib diisi"},
		{Name: "pekerjaan", Label: "Pekerjaan"},
	},
	"pendapatan": budgetFields,
	"belanja":    budgetFields,
	"artikel": {
		{Name: "judul", Label: "Judul", Rule: "required,max=200", Message: "Judul wajib diisi"},
		{Name: "kategori", Label: "Kategori"},
		{Name: "ringkasan", Label: "Ringkasan", Kind: kindTextarea},
		{Name: "konten", Label: "Konten", Kind: kindTextarea, Rule: "required", Message: "Konten wajib diisi"},
		{Name: "gambar", Label: "URL gambar", Rule: "omitempty,url", Message: "URL tidak valid"},
		{Name: "status", Label: "Status", Kind: kindSelect, Rule: "required,oneof=draft published", Message: "Pilih status", Options: []string{"draft", "published"}},
	},
	"pengaduan": complaintFields,
	"pengguna": {
		{Name: "username", Label: "Username", Rule: "required,alphanum,min=3", Message: "Username minimal 3 huruf/angka"},
		{Name: "nama", Label: "Nama", Rule: "required", Message: "Nama wajib diisi"},
		{Name: "email", Label: "Email", Rule: "required,email", Message: "Email tidak valid"},
		{Name: "role", Label: "Peran", Kind: kindSelect, Rule: "required,oneof=admin operator", Message: "Pilih peran", Options: []string{"admin", "operator"}},
		{Name: "password", Label: "Password", Kind: kindPassword, Rule: "required,min=8", Message: "Password minimal 8 karakter", CreateOnly: true},
	},
}

func fieldsFor(res *backend.Resource, creating bool) []field {
	fields := resourceFields[res.Name]
	if creating {
		return fields
	}

	out := make([]field, 0, len(fields))
	for _, f := range fields {
		if !f.CreateOnly {
			out = append(out, f)
		}
	}
	return out
}

func readForm(ctx *fasthttp.RequestCtx, fields []field) *form {
	f := &form{
		Fields: fields,
		Values: make(map[string]string, len(fields)),
	}

	for _, fl := range fields {
		f.Values[fl.Name] = strings.TrimSpace(string(ctx.PostArgs().Peek(fl.Name)))
	}

	return f
}

// check runs every field rule and records the field's message on failure.
func check(validate *validator.Validate, f *form) bool {
	f.Errors = make(map[string]string)

	for _, fl := range f.Fields {
		if fl.Rule == "" {
			continue
		}
		if err := validate.Var(f.Values[fl.Name], fl.Rule); err != nil {
			f.Errors[fl.Name] = fl.Message
		}
	}

	return len(f.Errors) == 0
}

// absorb copies the backend's own validation messages onto the form.
func absorb(f *form, apiErr *backend.APIError) {
	if f.Errors == nil {
		f.Errors = make(map[string]string)
	}
	for name, message := range apiErr.Fields {
		f.Errors[name] = message
	}
	f.Message = apiErr.Message
}

// record converts form values to a backend row, numbers as numbers.
func record(f *form) backend.Record {
	out := make(backend.Record, len(f.Fields))

	for _, fl := range f.Fields {
		value := f.Values[fl.Name]
		if fl.Kind == kindNumber {
			if value == "" {
				continue
			}
			if n, err := strconv.ParseFloat(value, 64); err == nil {
				out[fl.Name] = n
				continue
			}
		}
		out[fl.Name] = value
	}

	return out
}

func formFromRecord(fields []field, r backend.Record) *form {
	f := &form{
		Fields: fields,
		Values: make(map[string]string, len(fields)),
	}
	for _, fl := range fields {
		if fl.Kind == kindPassword {
			continue
		}
		f.Values[fl.Name] = r.String(fl.Name)
	}
	return f
}
