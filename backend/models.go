package backend

import (
	"strconv"
)

type DesaConfig struct {
	NamaDesa      string  `json:"nama_desa" yaml:"nama_desa"`
	KepalaDesa    string  `json:"kepala_desa" yaml:"kepala_desa"`
	Alamat        string  `json:"alamat" yaml:"alamat"`
	Kecamatan     string  `json:"kecamatan" yaml:"kecamatan"`
	Kabupaten     string  `json:"kabupaten" yaml:"kabupaten"`
	Provinsi      string  `json:"provinsi" yaml:"provinsi"`
	KodePos       string  `json:"kode_pos" yaml:"kode_pos"`
	Telepon       string  `json:"telepon" yaml:"telepon"`
	Email         string  `json:"email" yaml:"email"`
	Sejarah       string  `json:"sejarah" yaml:"sejarah"`
	Visi          string  `json:"visi" yaml:"visi"`
	Misi          string  `json:"misi" yaml:"misi"`
	LuasWilayah   float64 `json:"luas_wilayah" yaml:"luas_wilayah"`
	Latitude      float64 `json:"latitude" yaml:"latitude"`
	Longitude     float64 `json:"longitude" yaml:"longitude"`
	LogoURL       string  `json:"logo_url" yaml:"logo_url"`
	TahunAnggaran int     `json:"tahun_anggaran" yaml:"tahun_anggaran"`
}

type PopulationStats struct {
	TotalPenduduk  int `json:"total_penduduk"`
	TotalLakiLaki  int `json:"total_laki_laki"`
	TotalPerempuan int `json:"total_perempuan"`
	TotalKK        int `json:"total_kk"`
}

type Article struct {
	ID          int64  `json:"id"`
	Judul       string `json:"judul"`
	Ringkasan   string `json:"ringkasan"`
	Konten      string `json:"konten"`
	Gambar      string `json:"gambar"`
	Kategori    string `json:"kategori"`
	Status      string `json:"status"`
	Penulis     string `json:"penulis"`
	CreatedAt   string `json:"created_at"`
	PublishedAt string `json:"published_at"`
}

// BudgetEntry is one APBDesa ledger line, either income (pendapatan) or
// expense (belanja).
type BudgetEntry struct {
	ID        int64   `json:"id"`
	Tahun     int     `json:"tahun"`
	Kategori  string  `json:"kategori"`
	Uraian    string  `json:"uraian"`
	Anggaran  float64 `json:"anggaran"`
	Realisasi float64 `json:"realisasi"`
}

type Complaint struct {
	ID        int64  `json:"id"`
	Nama      string `json:"nama"`
	Kontak    string `json:"kontak"`
	Judul     string `json:"judul"`
	Isi       string `json:"isi"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type IDMScore struct {
	Tahun  int     `json:"tahun"`
	IKS    float64 `json:"iks"`
	IKE    float64 `json:"ike"`
	IKL    float64 `json:"ikl"`
	Skor   float64 `json:"skor_idm"`
	Status string  `json:"status"`
}

type Facility struct {
	ID        int64   `json:"id"`
	Nama      string  `json:"nama"`
	Jenis     string  `json:"jenis"`
	Alamat    string  `json:"alamat"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Potential struct {
	ID        int64  `json:"id"`
	Nama      string `json:"nama"`
	Kategori  string `json:"kategori"`
	Deskripsi string `json:"deskripsi"`
	Gambar    string `json:"gambar"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nama     string `json:"nama"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type LetterRequest struct {
	Nama       string `json:"nama" validate:"required"`
	NIK        string `json:"nik" validate:"required,numeric,len=16"`
	JenisSurat string `json:"jenis_surat" validate:"required"`
	Keperluan  string `json:"keperluan" validate:"required"`
	Telepon    string `json:"telepon" validate:"omitempty,numeric,min=8,max=15"`
}

type ComplaintRequest struct {
	Nama   string `json:"nama" validate:"required"`
	Kontak string `json:"kontak" validate:"required"`
	Judul  string `json:"judul" validate:"required"`
	Isi    string `json:"isi" validate:"required"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type StatusUpdate struct {
	Status string `json:"status"`
}

// Record is an untyped backend row used by the generic admin screens.
type Record map[string]interface{}

// ID renders the record id as a path segment.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// String renders any field for display.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
