package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractPrice(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		free bool
	}{
		{"won with commas", "성인 15,000원 / 청소년 10,000원", "15,000원", false},
		{"man won", "입장료 1만원", "1만원", false},
		{"won sign", "₩12,000 per person", "₩12,000", false},
		{"dollars", "Tickets $25.00 at the door", "$25.00", false},
		{"english won", "General 5000 won", "5000 won", false},
		{"korean free", "관람료 무료", FreeText, true},
		{"english free", "Admission is free for all visitors", FreeText, true},
		{"free admission beats amount", "관람료: 무료 (주차 3,000원)", FreeText, true},
		{"korean free entry", "무료 입장, 사전 예약 필수", FreeText, true},
		{"english free admission", "Free admission on Wednesdays", FreeText, true},
		{"concession free is not free admission", "성인 5,000원, 65세 이상 무료", "5,000원", false},
		{"barrier free access", "Barrier-free access. Admission 5,000원", "5,000원", false},
		{"free parking", "입장료 15,000원, 무료 주차 가능", "15,000원", false},
		{"free shuttle", "Free shuttle from the station. Tickets $12", "$12", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractPrice(tt.text)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Text)
			assert.Equal(t, tt.free, got.Free)
		})
	}
}

func TestExtractPrice_None(t *testing.T) {
	assert.Nil(t, ExtractPrice(""))
	assert.Nil(t, ExtractPrice("가격 정보 없음"))
	assert.Nil(t, ExtractPrice("무료 주차 가능"))
}
