package parser

import "strconv"

// operandCounts gives the arity of every canonical mnemonic.
var operandCounts = map[string]int{
	"halt": 0, "ret": 0,
	"not": 1, "display": 1, "displayf": 1, "displaychar": 1,
	"push": 1, "pushr": 1, "pushrf": 1, "pop": 1, "popf": 1,
	"jmp": 1, "call": 1, "jz": 1, "jnz": 1, "je": 1, "jne": 1, "jg": 1, "jl": 1,
	"truncstack": 1, "malloc": 1, "free": 1, "getsp": 1, "write": 1,
	"mov": 2, "add": 2, "sub": 2, "mul": 2, "div": 2, "mod": 2,
	"or": 2, "and": 2, "xor": 2, "nand": 2, "cmp": 2,
	"getfromstack": 2, "getfromsp": 2, "setfromsp": 2, "setstack": 2,
	"truncstackrange": 2, "getflag": 2,
	"movf": 2, "addf": 2, "subf": 2, "mulf": 2, "divf": 2, "modf": 2,
	"getmem": 3, "setmem": 3,
}

// Parser builds a Program from a token stream.
type Parser struct {
	tokens   []Token
	index    int
	filename string

	program *Program
	current *Label // label currently open, nil at top level
	errors  ErrorList
}

// NewParser creates a parser over tokens.
func NewParser(tokens []Token, filename string) *Parser {
	return &Parser{
		tokens:   tokens,
		filename: filename,
		program: &Program{
			Labels:   make(map[string]*Label),
			Filename: filename,
		},
	}
}

// Parse consumes the whole token stream and returns the program. All
// collected errors are returned together.
func (p *Parser) Parse() (*Program, error) {
	for {
		tok := p.peek()
		if tok.Type == TokenEOF {
			break
		}

		switch tok.Type {
		case TokenLabel:
			p.parseLabel()
		case TokenEndLabel:
			p.parseEndLabel()
		case TokenAt:
			p.parseBuiltin()
		case TokenInstruction:
			p.parseInstruction()
		default:
			p.errorf(tok.Pos, ErrorSyntax, "unexpected token %s", tok)
			p.consume()
		}
	}

	if p.current != nil {
		p.errorf(p.current.Pos, ErrorUnclosedLabel, "label %q has no endlabel", p.current.Name)
	}
	if p.errors.HasErrors() {
		return nil, &p.errors
	}
	return p.program, nil
}

func (p *Parser) parseLabel() {
	labelTok := p.consume() // the label keyword

	if p.current != nil {
		p.errorf(labelTok.Pos, ErrorSyntax, "cannot open a label inside label %q", p.current.Name)
	}

	nameTok := p.peek()
	if nameTok.Type != TokenIdentifier {
		p.errorf(nameTok.Pos, ErrorSyntax, "expected label name after label keyword, found %s", nameTok)
		return
	}
	p.consume()

	if colon := p.peek(); colon.Type != TokenColon {
		p.errorf(colon.Pos, ErrorSyntax, "expected ':' after label name, found %s", colon)
		return
	}
	p.consume()

	if _, exists := p.program.Labels[nameTok.Literal]; exists {
		p.errorf(nameTok.Pos, ErrorDuplicateLabel, "label %q is already defined", nameTok.Literal)
		return
	}

	label := &Label{Name: nameTok.Literal, Pos: nameTok.Pos}
	p.program.Labels[label.Name] = label
	p.program.LabelOrder = append(p.program.LabelOrder, label.Name)
	p.current = label
}

func (p *Parser) parseEndLabel() {
	tok := p.consume()
	if p.current == nil {
		p.errorf(tok.Pos, ErrorSyntax, "endlabel without an open label")
		return
	}
	p.current = nil
}

func (p *Parser) parseInstruction() {
	tok := p.consume()
	mnemonic := tok.Literal

	count, ok := operandCounts[mnemonic]
	if !ok {
		p.errorf(tok.Pos, ErrorInvalidInstruction, "undefined instruction %q", mnemonic)
		return
	}

	in := &Instruction{Mnemonic: mnemonic, Pos: tok.Pos}
	for i := 0; i < count; i++ {
		if i > 0 {
			if comma := p.peek(); comma.Type != TokenComma {
				p.errorf(comma.Pos, ErrorSyntax, "expected ',' after operand %d of %s, found %s", i, mnemonic, comma)
				return
			}
			p.consume()
		}
		operand, ok := p.parseOperand(mnemonic)
		if !ok {
			return
		}
		in.Operands = append(in.Operands, operand)
	}

	p.emit(in)
}

func (p *Parser) parseOperand(mnemonic string) (Operand, bool) {
	tok := p.peek()
	switch tok.Type {
	case TokenRegister:
		p.consume()
		return Operand{Kind: OperandRegister, Reg: registers[tok.Literal], Name: tok.Literal, Pos: tok.Pos}, true

	case TokenFloatRegister:
		p.consume()
		return Operand{Kind: OperandFloatRegister, Reg: floatRegisters[tok.Literal], Name: tok.Literal, Pos: tok.Pos}, true

	case TokenFlag:
		p.consume()
		return Operand{Kind: OperandFlag, Flag: flags[tok.Literal], Name: tok.Literal, Pos: tok.Pos}, true

	case TokenIdentifier:
		p.consume()
		return Operand{Kind: OperandLabel, Name: tok.Literal, Pos: tok.Pos}, true

	case TokenInt:
		p.consume()
		value, err := strconv.ParseInt(tok.Literal, 10, 32)
		if err != nil {
			p.errorf(tok.Pos, ErrorInvalidLiteral, "integer literal %s does not fit in 32 bits", tok.Literal)
			return Operand{}, false
		}
		return Operand{Kind: OperandInt, Int: int32(value), Pos: tok.Pos}, true

	case TokenFloat:
		p.consume()
		value, err := strconv.ParseFloat(tok.Literal, 32)
		if err != nil {
			p.errorf(tok.Pos, ErrorInvalidLiteral, "invalid float literal %s", tok.Literal)
			return Operand{}, false
		}
		return Operand{Kind: OperandFloat, Float: float32(value), Pos: tok.Pos}, true
	}

	p.errorf(tok.Pos, ErrorInvalidOperand, "expected operand for %s, found %s", mnemonic, tok)
	return Operand{}, false
}

// parseBuiltin handles the '@' builtins: @import splices another source
// file, @loadstring/@loadstringn expand to push instructions in place.
func (p *Parser) parseBuiltin() {
	atTok := p.consume()

	nameTok := p.peek()
	if nameTok.Type != TokenIdentifier {
		p.errorf(nameTok.Pos, ErrorSyntax, "expected builtin name after '@', found %s", nameTok)
		return
	}
	p.consume()

	arg, ok := p.parseBuiltinArg(nameTok.Literal)
	if !ok {
		return
	}

	switch nameTok.Literal {
	case "import":
		p.program.Imports = append(p.program.Imports, Import{Path: arg, Pos: atTok.Pos})

	case "loadstring", "loadstringn":
		if p.current == nil {
			p.errorf(atTok.Pos, ErrorSyntax, "@%s must appear inside a label", nameTok.Literal)
			return
		}
		// Each UTF-8 code unit becomes one pushed integer.
		for i := 0; i < len(arg); i++ {
			p.emit(&Instruction{
				Mnemonic: "push",
				Operands: []Operand{{Kind: OperandInt, Int: int32(arg[i]), Pos: atTok.Pos}},
				Pos:      atTok.Pos,
			})
		}
		if nameTok.Literal == "loadstringn" {
			p.emit(&Instruction{
				Mnemonic: "push",
				Operands: []Operand{{Kind: OperandInt, Int: int32(len(arg)), Pos: atTok.Pos}},
				Pos:      atTok.Pos,
			})
		}

	default:
		p.errorf(nameTok.Pos, ErrorSyntax, "unknown builtin @%s", nameTok.Literal)
	}
}

func (p *Parser) parseBuiltinArg(name string) (string, bool) {
	if tok := p.peek(); tok.Type != TokenLParen {
		p.errorf(tok.Pos, ErrorSyntax, "expected '(' after @%s, found %s", name, tok)
		return "", false
	}
	p.consume()

	strTok := p.peek()
	if strTok.Type != TokenString {
		p.errorf(strTok.Pos, ErrorSyntax, "expected string in @%s, found %s", name, strTok)
		return "", false
	}
	p.consume()

	if tok := p.peek(); tok.Type != TokenRParen {
		p.errorf(tok.Pos, ErrorSyntax, "expected ')' to close @%s, found %s", name, tok)
		return "", false
	}
	p.consume()

	return strTok.Literal, true
}

func (p *Parser) emit(in *Instruction) {
	if p.current == nil {
		p.errorf(in.Pos, ErrorSyntax, "instruction %s outside of a label", in.Mnemonic)
		return
	}
	p.current.Instructions = append(p.current.Instructions, in)
}

func (p *Parser) peek() Token {
	if p.index >= len(p.tokens) {
		return Token{Type: TokenEOF}
	}
	return p.tokens[p.index]
}

func (p *Parser) consume() Token {
	tok := p.peek()
	if p.index < len(p.tokens) {
		p.index++
	}
	return tok
}

func (p *Parser) errorf(pos Position, kind ErrorKind, format string, args ...any) {
	p.errors.Add(NewError(pos, kind, format, args...))
}

// RegisterFromNumber maps a numeric register reference to an integer
// register index.
func RegisterFromNumber(n int32, max uint32) (uint32, bool) {
	if n < 0 || uint32(n) >= max {
		return 0, false
	}
	return uint32(n), true
}
