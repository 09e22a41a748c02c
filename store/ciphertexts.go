package store

import (
	"context"
	"fmt"

	"github.com/samber/lo"
	"gorm.io/gorm/clause"

	"cipherbid/fhe"
	"cipherbid/models"
)

var _ fhe.CiphertextStore = (*Store)(nil)

// SaveCiphertexts 寫入協處理器產生的密文
// 輸入通過驗證時會以相同的handle再寫一次，這時只更新 verified
func (s *Store) SaveCiphertexts(ctx context.Context, records ...fhe.Ciphertext) error {
	const op = "Store.SaveCiphertexts"
	if len(records) == 0 {
		return nil
	}
	rows := lo.Map(records, func(c fhe.Ciphertext, _ int) models.Ciphertext {
		return ciphertextToModel(c)
	})
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "handle"}},
			DoUpdates: clause.AssignmentColumns([]string{"verified", "updated_at"}),
		}).
		Create(&rows)
	if result.Error != nil {
		return fmt.Errorf("[%s] Fail to save %d ciphertexts, err=%w", op, len(rows), result.Error)
	}
	return nil
}

func (s *Store) LoadCiphertexts(ctx context.Context) ([]fhe.Ciphertext, error) {
	const op = "Store.LoadCiphertexts"
	var rows []models.Ciphertext
	if result := s.db.WithContext(ctx).Find(&rows); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to load ciphertexts, err=%w", op, result.Error)
	}
	out := make([]fhe.Ciphertext, 0, len(rows))
	for _, row := range rows {
		c, err := ciphertextFromModel(row)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to decode ciphertext %s, err=%w", op, row.Handle, err)
		}
		out = append(out, c)
	}
	return out, nil
}
