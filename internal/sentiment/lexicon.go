package sentiment

import "positivex.app/server/internal/domain"

// emojiPrecedence is the order in which category emoji decide the content type.
var emojiPrecedence = []domain.ContentType{
	domain.ContentFunny,
	domain.ContentInformative,
	domain.ContentMotivational,
	domain.ContentArtistic,
}

var keywordGroups = map[domain.ContentType][]string{
	domain.ContentMotivational: {
		"başar", "hedef", "azim", "inan", "güç", "motivasyon", "ilham",
		"gelişim", "potansiyel", "hayaller", "vizyon", "kararlılık",
		"success", "goal", "believe", "inspir", "motivat", "dream", "achiev",
	},
	domain.ContentFunny: {
		"komik", "espri", "gül", "eğlen", "kahkaha", "mizah", "şaka",
		"caps", "parodi", "absürt", "ironi",
		"funny", "lol", "lmao", "joke", "hilarious", "meme",
	},
	domain.ContentInformative: {
		"bilgi", "öğren", "eğitim", "araştır", "keşfet", "analiz",
		"kaynak", "makale", "çalışma", "veri", "sonuç",
		"learn", "research", "study", "thread", "data", "article", "guide",
	},
	domain.ContentArtistic: {
		"sanat", "müzik", "resim", "tasarım", "yaratıcı", "estetik",
		"film", "fotoğraf", "şiir", "dans", "performans",
		"artist", "artwork", "music", "design", "photo", "poem", "paint",
	},
}

var emojiGroups = map[domain.ContentType][]string{
	domain.ContentMotivational: {"💪", "🎯", "✨", "🌟", "⭐", "🔥", "👊", "🚀", "💫"},
	domain.ContentFunny:        {"😂", "🤣", "😅", "😆", "😄", "😃", "😹", "🤪"},
	domain.ContentInformative:  {"📚", "💡", "🔍", "📊", "📈", "🧠", "💭", "📝"},
	domain.ContentArtistic:     {"🎨", "🎭", "🎬", "📸", "🎵", "🎼", "🎪", "🖼"},
}

// emojiPolarity maps emoji to +1 or -1. Emoji missing from the table count as 0.
var emojiPolarity = map[string]float64{}

func init() {
	for _, group := range emojiGroups {
		for _, e := range group {
			emojiPolarity[e] = 1
		}
	}
	for _, e := range []string{
		"😊", "🙂", "😀", "😁", "😍", "🥰", "😇", "🤗", "❤", "💖", "💕", "💙", "💚",
		"👍", "👏", "🙌", "🎉", "🥳", "🌈", "☀", "🌸", "🙏", "💯", "✅",
	} {
		emojiPolarity[e] = 1
	}
	for _, e := range []string{
		"😢", "😭", "😡", "😠", "🤬", "😤", "😞", "😔", "😩", "😫", "😒", "🙄",
		"👎", "💔", "😱", "😨", "😰", "🤮", "🤢", "💀", "⚠", "❌",
	} {
		emojiPolarity[e] = -1
	}
}
