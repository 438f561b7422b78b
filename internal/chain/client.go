package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"dex-grid-bot-go/internal/logger"
	"dex-grid-bot-go/internal/models"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// QuoterABI 是 Uniswap V3 Quoter 合约的最小 ABI，只包含单池报价
const QuoterABI = `[{"inputs":[{"internalType":"address","name":"tokenIn","type":"address"},{"internalType":"address","name":"tokenOut","type":"address"},{"internalType":"uint24","name":"fee","type":"uint24"},{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint160","name":"sqrtPriceLimitX96","type":"uint160"}],"name":"quoteExactInputSingle","outputs":[{"internalType":"uint256","name":"amountOut","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}]`

// ERC20ABI 是 ERC20 合约的最小 ABI，只包含余额和授权查询
const ERC20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

// defaultPoolFee 是报价时使用的默认池子费率档 (0.3%)
const defaultPoolFee = 3000

// Client 是链上只读协作方的统一入口。
// 它只做 eth_call 级别的查询: 报价、gas价格、余额与授权，
// 交易的编码与签名不在这里发生。
type Client struct {
	ec         *ethclient.Client
	quoterAddr common.Address
	quoterABI  abi.ABI
	erc20ABI   abi.ABI
	tokens     map[string]models.TokenConfig
	usdAsset   string
	logger     *zap.SugaredLogger
}

// NewClient 连接RPC节点并解析合约ABI
func NewClient(rpcURL, quoterAddress, usdAsset string, tokens map[string]models.TokenConfig) (*Client, error) {
	ec, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接RPC节点失败: %w", err)
	}

	quoterABI, err := abi.JSON(strings.NewReader(QuoterABI))
	if err != nil {
		return nil, fmt.Errorf("解析Quoter ABI失败: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("解析ERC20 ABI失败: %w", err)
	}

	if _, ok := tokens[usdAsset]; !ok {
		return nil, fmt.Errorf("tokens 配置中缺少美元锚定资产 %s", usdAsset)
	}

	return &Client{
		ec:         ec,
		quoterAddr: common.HexToAddress(quoterAddress),
		quoterABI:  quoterABI,
		erc20ABI:   erc20ABI,
		tokens:     tokens,
		usdAsset:   usdAsset,
		logger:     logger.Named("chain"),
	}, nil
}

func (c *Client) token(asset string) (models.TokenConfig, error) {
	t, ok := c.tokens[asset]
	if !ok {
		return models.TokenConfig{}, fmt.Errorf("未配置资产 %s 的代币信息", asset)
	}
	return t, nil
}

// quotePair 用1个单位的 tokenIn 询价，返回 tokenOut 计价的价格
func (c *Client) quotePair(ctx context.Context, assetIn, assetOut string) (float64, error) {
	tokenIn, err := c.token(assetIn)
	if err != nil {
		return 0, err
	}
	tokenOut, err := c.token(assetOut)
	if err != nil {
		return 0, err
	}

	amountIn := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(tokenIn.Decimals)), nil)

	data, err := c.quoterABI.Pack("quoteExactInputSingle",
		common.HexToAddress(tokenIn.Address),
		common.HexToAddress(tokenOut.Address),
		big.NewInt(defaultPoolFee),
		amountIn,
		big.NewInt(0),
	)
	if err != nil {
		return 0, fmt.Errorf("编码报价调用失败: %w", err)
	}

	msg := ethereum.CallMsg{To: &c.quoterAddr, Data: data}
	out, err := c.ec.CallContract(ctx, msg, nil)
	if err != nil {
		return 0, fmt.Errorf("链上报价调用失败 (%s/%s): %w", assetIn, assetOut, err)
	}

	results, err := c.quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil || len(results) == 0 {
		return 0, fmt.Errorf("解码报价结果失败: %v", err)
	}
	amountOut, ok := results[0].(*big.Int)
	if !ok || amountOut.Sign() <= 0 {
		return 0, fmt.Errorf("链上报价返回了无效的输出数量")
	}

	outF, _ := new(big.Float).SetInt(amountOut).Float64()
	return outF / math.Pow10(tokenOut.Decimals), nil
}

// QuoteUSD 返回资产对美元锚定资产的直接报价
func (c *Client) QuoteUSD(ctx context.Context, asset string) (float64, error) {
	if asset == c.usdAsset {
		return 1, nil
	}
	return c.quotePair(ctx, asset, c.usdAsset)
}

// QuoteVia 经过中间资产合成美元报价: asset->bridge 与 bridge->USD 两段相乘
func (c *Client) QuoteVia(ctx context.Context, asset, bridge string) (float64, error) {
	if bridge == "" || bridge == asset {
		return 0, fmt.Errorf("无效的中间资产 %q", bridge)
	}

	leg1, err := c.quotePair(ctx, asset, bridge)
	if err != nil {
		return 0, err
	}

	leg2 := 1.0
	if bridge != c.usdAsset {
		leg2, err = c.quotePair(ctx, bridge, c.usdAsset)
		if err != nil {
			return 0, err
		}
	}

	return leg1 * leg2, nil
}

// SuggestGasPrice 返回节点建议的gas价格 (wei)
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ec.SuggestGasPrice(ctx)
}

// GetBalance 查询 owner 持有的资产余额，按代币精度换算为浮点数
func (c *Client) GetBalance(ctx context.Context, asset, owner string) (float64, error) {
	t, err := c.token(asset)
	if err != nil {
		return 0, err
	}

	data, err := c.erc20ABI.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return 0, fmt.Errorf("编码余额查询失败: %w", err)
	}

	tokenAddr := common.HexToAddress(t.Address)
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("余额查询失败 (%s): %w", asset, err)
	}

	results, err := c.erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(results) == 0 {
		return 0, fmt.Errorf("解码余额结果失败: %v", err)
	}
	bal, ok := results[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("余额结果类型异常")
	}

	balF, _ := new(big.Float).SetInt(bal).Float64()
	return balF / math.Pow10(t.Decimals), nil
}

// Allowance 查询 owner 对 spender 的授权额度
func (c *Client) Allowance(ctx context.Context, asset, owner, spender string) (float64, error) {
	t, err := c.token(asset)
	if err != nil {
		return 0, err
	}

	data, err := c.erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return 0, fmt.Errorf("编码授权查询失败: %w", err)
	}

	tokenAddr := common.HexToAddress(t.Address)
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("授权查询失败 (%s): %w", asset, err)
	}

	results, err := c.erc20ABI.Unpack("allowance", out)
	if err != nil || len(results) == 0 {
		return 0, fmt.Errorf("解码授权结果失败: %v", err)
	}
	allowance, ok := results[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("授权结果类型异常")
	}

	aF, _ := new(big.Float).SetInt(allowance).Float64()
	return aF / math.Pow10(t.Decimals), nil
}

// Close 关闭RPC连接
func (c *Client) Close() {
	c.ec.Close()
}
