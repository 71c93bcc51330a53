// Package config 读取 config.xml，环境变量覆盖，校验后交给各组件使用。
package config

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const envPrefix = "MAPEDIT_"

type Config struct {
	XMLName    xml.Name `xml:"config"`
	MainRouter string   `xml:"MainRouter" validate:"required"`
	Dialect    string   `xml:"dialect" validate:"required,oneof=sqlite spatialite postgres mysql"`
	Host       string   `xml:"host" validate:"required_if=Dialect postgres,required_if=Dialect mysql"`
	Port       string   `xml:"port"`
	Username   string   `xml:"user"`
	Password   string   `xml:"password"`
	Dbname     string   `xml:"dbname" validate:"required_if=Dialect postgres,required_if=Dialect mysql"`
	SQLitePath string   `xml:"sqlite" validate:"required_if=Dialect sqlite,required_if=Dialect spatialite"`
	SRID       int      `xml:"srid" validate:"gt=0"`
	// KMLDir 导入的 KML 副本目录
	KMLDir string `xml:"kmldir" validate:"required"`
	// KMLFiles 已导入的文档图层，以 | 分隔
	KMLFiles  string     `xml:"KMLFiles"`
	Locale    string     `xml:"locale"`
	AuditDB   string     `xml:"auditdb"`
	LogLevel  string     `xml:"loglevel" validate:"omitempty,oneof=silent error warn info"`
	Tolerance float64    `xml:"tolerance" validate:"gte=0"`
	Layers    []LayerDef `xml:"layers>layer" validate:"dive"`
}

func (c *Config) defaults() {
	if c.MainRouter == "" {
		c.MainRouter = ":8181"
	}
	if c.Dialect == "" {
		c.Dialect = "sqlite"
	}
	if c.SRID == 0 {
		c.SRID = 3857
	}
	if c.KMLDir == "" {
		c.KMLDir = "KML"
	}
	if c.Locale == "" {
		c.Locale = "zh-CN"
	}
	if c.AuditDB == "" {
		c.AuditDB = "mapedit_audit.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.Tolerance == 0 {
		c.Tolerance = 5
	}
}

// applyEnv MAPEDIT_HOST 等变量覆盖文件中的值
func (c *Config) applyEnv() error {
	str := map[string]*string{
		"LISTEN":   &c.MainRouter,
		"DIALECT":  &c.Dialect,
		"HOST":     &c.Host,
		"PORT":     &c.Port,
		"USER":     &c.Username,
		"PASSWORD": &c.Password,
		"DBNAME":   &c.Dbname,
		"SQLITE":   &c.SQLitePath,
		"KMLDIR":   &c.KMLDir,
		"LOCALE":   &c.Locale,
		"AUDITDB":  &c.AuditDB,
		"LOGLEVEL": &c.LogLevel,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "SRID"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sSRID: %w", envPrefix, err)
		}
		c.SRID = n
	}
	if v, ok := os.LookupEnv(envPrefix + "TOLERANCE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sTOLERANCE: %w", envPrefix, err)
		}
		c.Tolerance = f
	}
	return nil
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Documents 已导入的文档图层标识
func (c *Config) Documents() []string {
	var out []string
	for _, s := range strings.Split(c.KMLFiles, "|") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func decode(data []byte) (*Config, error) {
	var c Config
	if err := xml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &c, nil
}

// Load 读取配置文件和同目录的 .env，环境变量优先。返回的 File 用于回写文档图层登记。
func Load(path string) (*Config, *File, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open config: %w", err)
	}
	raw, err := decode(data)
	if err != nil {
		return nil, nil, err
	}
	c, _ := decode(data)
	c.defaults()
	if err := c.applyEnv(); err != nil {
		return nil, nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	return c, &File{path: path, raw: raw, live: c}, nil
}

// File 配置文件本身。只改写 KMLFiles，环境变量覆盖的值不会写回文件。
type File struct {
	mu   sync.Mutex
	path string
	raw  *Config
	live *Config
}

func (f *File) Documents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live.Documents()
}

func (f *File) AddDocument(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.live.Documents() {
		if d == id {
			return nil
		}
	}
	return f.setDocuments(append(f.live.Documents(), id))
}

func (f *File) RemoveDocument(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []string
	for _, d := range f.live.Documents() {
		if d != id {
			kept = append(kept, d)
		}
	}
	return f.setDocuments(kept)
}

func (f *File) setDocuments(ids []string) error {
	joined := strings.Join(ids, "|")
	prev := f.raw.KMLFiles
	f.raw.KMLFiles = joined
	if err := f.save(); err != nil {
		f.raw.KMLFiles = prev
		return err
	}
	f.live.KMLFiles = joined
	return nil
}

func (f *File) save() error {
	data, err := xml.MarshalIndent(f.raw, "", "  ")
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(data)
	buf.WriteByte('\n')

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".config-*.xml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}
