// Пакет sysdoc — документы системного каталога (*.table.json).
// Каждая таблица хранится отдельным JSON-документом, который является
// единственным источником истины для её метаданных. При получении
// лидерства catalog manager перечитывает все документы (ScanDir).
// Все операции записи выполняются атомарно: temp → fsync → rename.
package sysdoc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bigkaa/goartstore/catalog-master/internal/domain/model"
)

// DocSuffix — суффикс документа таблицы.
const DocSuffix = ".table.json"

// TablesDir — поддиректория документов таблиц внутри CM_DATA_DIR.
const TablesDir = "tables"

// maxDocSize — максимальный допустимый размер документа (64 КБ).
const maxDocSize = 64 * 1024

// Store — хранилище документов системного каталога в директории.
type Store struct {
	dir string
}

// Open открывает (и при необходимости создаёт) директорию документов.
// Проверяет доступность директории на запись.
func Open(dataDir string) (*Store, error) {
	dir := filepath.Join(dataDir, TablesDir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию каталога %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория каталога %s недоступна для записи: %w", dir, err)
	}
	_ = os.Remove(testFile)

	return &Store{dir: dir}, nil
}

// Dir возвращает путь к директории документов.
func (s *Store) Dir() string {
	return s.dir
}

// DocPath возвращает путь к документу таблицы.
func (s *Store) DocPath(tableID string) string {
	return filepath.Join(s.dir, tableID+DocSuffix)
}

// IsDocFile проверяет, является ли путь документом таблицы.
func IsDocFile(path string) bool {
	return strings.HasSuffix(path, DocSuffix)
}

// Write атомарно записывает документ таблицы.
// Возвращает ошибку, если сериализованный документ превышает 64 КБ.
func (s *Store) Write(desc *model.TableDescriptor) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации документа: %w", err)
	}

	if len(data) > maxDocSize {
		return fmt.Errorf("размер документа (%d байт) превышает максимум (%d байт)", len(data), maxDocSize)
	}

	path := s.DocPath(desc.TableID)
	tmpPath := path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Read читает документ таблицы по идентификатору.
func (s *Store) Read(tableID string) (*model.TableDescriptor, error) {
	return readDoc(s.DocPath(tableID))
}

// Delete удаляет документ таблицы. nil, если документа уже нет.
func (s *Store) Delete(tableID string) error {
	path := s.DocPath(tableID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления документа %s: %w", path, err)
	}
	return nil
}

// ScanDir читает все документы таблиц директории.
// Невалидные документы пропускаются и возвращаются списком путей.
func ScanDir(dir string) ([]*model.TableDescriptor, []string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+DocSuffix))
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка сканирования директории %s: %w", dir, err)
	}

	var (
		result  []*model.TableDescriptor
		skipped []string
	)
	for _, path := range matches {
		desc, err := readDoc(path)
		if err != nil {
			skipped = append(skipped, path)
			continue
		}
		result = append(result, desc)
	}

	return result, skipped, nil
}

// readDoc читает и десериализует документ.
func readDoc(path string) (*model.TableDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения документа %s: %w", path, err)
	}

	var desc model.TableDescriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("ошибка десериализации документа %s: %w", path, err)
	}

	return &desc, nil
}
