package chat

type RecapScope = recapScope

var (
	CompressHistory   = compressHistory
	SummarizeContents = summarizeContents
	IsTokenLimitError = isTokenLimitError
)
