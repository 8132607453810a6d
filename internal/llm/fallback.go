package llm

import "math/rand/v2"

// FallbackReplies are sent in character when the model cannot be reached.
var FallbackReplies = []string{
	"抱歉，我现在有点累了，稍后再聊吧~",
	"emmm...我需要休息一下",
	"不好意思，我暂时无法回复",
}

// FallbackReply picks one of FallbackReplies. A nil r uses the global source.
func FallbackReply(r *rand.Rand) string {
	if r == nil {
		return FallbackReplies[rand.IntN(len(FallbackReplies))]
	}
	return FallbackReplies[r.IntN(len(FallbackReplies))]
}
