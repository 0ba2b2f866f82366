package feedback

import "context"

var samples = []Input{
	{
		Question:     "Pythonのリストとタプルの違いは何ですか？",
		Answer:       "リストは変更可能 (mutable) で、タプルは変更不可 (immutable) です。",
		Rating:       LabelCorrect,
		ResponseTime: 1.2,
	},
	{
		Question:     "機械学習における過学習とは何ですか？",
		Answer:       "訓練データに合わせすぎて、未知のデータで性能が落ちる状態です。",
		Rating:       LabelCorrect,
		Comment:      "簡潔で分かりやすい",
		ResponseTime: 2.4,
	},
	{
		Question:      "勾配降下法の学習率を大きくするとどうなりますか？",
		Answer:        "学習が速くなります。",
		Rating:        LabelPartial,
		Comment:       "発散の可能性に触れていない",
		CorrectAnswer: "収束が速くなることもあるが、大きすぎると損失が発散して学習が不安定になる。",
		ResponseTime:  1.8,
	},
	{
		Question:      "Transformerで使われる注意機構の名前は？",
		Answer:        "畳み込み注意 (convolutional attention) です。",
		Rating:        LabelIncorrect,
		CorrectAnswer: "Self-Attention (Scaled Dot-Product Attention) です。",
		ResponseTime:  3.1,
	},
	{
		Question:     "教師なし学習の代表的な手法を一つ挙げてください。",
		Answer:       "k-means クラスタリングです。",
		Rating:       LabelCorrect,
		ResponseTime: 0.9,
	},
	{
		Question:      "正規化と標準化の違いは？",
		Answer:        "どちらも同じ意味です。",
		Rating:        LabelIncorrect,
		CorrectAnswer: "正規化は値を0から1の範囲に収め、標準化は平均0、分散1に変換する。",
		ResponseTime:  2.2,
	},
	{
		Question:     "バッチサイズを小さくする利点は？",
		Answer:       "メモリ使用量が減り、勾配のノイズが正則化として働くことがあります。",
		Rating:       LabelPartial,
		ResponseTime: 4.0,
	},
}

// SeedSamples inserts a fixed set of example evaluations and returns how
// many were added.
func (s *Store) SeedSamples(ctx context.Context) (int, error) {
	n := 0
	for _, in := range samples {
		if _, err := s.Save(ctx, in); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
